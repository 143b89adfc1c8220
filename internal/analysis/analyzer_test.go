package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.text, s.err
}

const goodJSON = `{
  "lateness": {"grade": "S", "reason": "遅刻に関する言及なし"},
  "mission": {"grade": "A", "reason": "ミッションを適切に理解し取り組んでいる"},
  "activeListening": {"grade": "B", "reason": "基本的な相槌はあるが、深い質問が少ない"},
  "comprehension": {"grade": "A", "correctAnswers": 4, "totalQuestions": 5, "reason": "5問中4問正解"}
}`

func TestAnalyzeSession(t *testing.T) {
	a := NewAnalyzer(&stubGenerator{text: goodJSON})
	r := a.AnalyzeSession(context.Background(), "先生: こんにちは\n生徒: こんにちは！")

	if r.Lateness.Grade != grades.GradeS {
		t.Errorf("Lateness = %s, want S", r.Lateness.Grade)
	}
	if r.Mission.Grade != grades.GradeA {
		t.Errorf("Mission = %s, want A", r.Mission.Grade)
	}
	if r.ActiveListening.Grade != grades.GradeB {
		t.Errorf("ActiveListening = %s, want B", r.ActiveListening.Grade)
	}
	if r.Comprehension.Grade != grades.GradeA || r.Comprehension.CorrectAnswers != 4 {
		t.Errorf("Comprehension = %+v, want A with 4 correct", r.Comprehension)
	}
}

func TestAnalyzeSessionCodeFence(t *testing.T) {
	a := NewAnalyzer(&stubGenerator{text: "評価結果は以下の通りです。\n```json\n" + goodJSON + "\n```\n以上です。"})
	r := a.AnalyzeSession(context.Background(), "transcript")
	if r.Lateness.Grade != grades.GradeS {
		t.Errorf("Lateness = %s, want S (fenced JSON)", r.Lateness.Grade)
	}
}

func TestAnalyzeSessionGeneratorError(t *testing.T) {
	a := NewAnalyzer(&stubGenerator{err: errors.New("quota exceeded")})
	r := a.AnalyzeSession(context.Background(), "transcript")

	for name, cat := range map[string]CategoryResult{
		"lateness": r.Lateness, "mission": r.Mission, "activeListening": r.ActiveListening,
	} {
		if cat.Grade != grades.GradeC {
			t.Errorf("%s = %s, want fallback C", name, cat.Grade)
		}
	}
	if r.Comprehension.Grade != grades.GradeC || r.Comprehension.TotalQuestions != 5 {
		t.Errorf("Comprehension = %+v, want fallback C over 5 questions", r.Comprehension)
	}
}

func TestAnalyzeSessionGarbageResponse(t *testing.T) {
	a := NewAnalyzer(&stubGenerator{text: "すみません、評価できませんでした。"})
	r := a.AnalyzeSession(context.Background(), "transcript")
	if r.Mission.Grade != grades.GradeC {
		t.Errorf("Mission = %s, want fallback C", r.Mission.Grade)
	}
}

func TestNormalizeGrade(t *testing.T) {
	tests := []struct {
		in   string
		want grades.Grade
	}{
		{"S", grades.GradeS},
		{" a ", grades.GradeA},
		{"b", grades.GradeB},
		{"E", grades.GradeC},
		{"", grades.GradeC},
		{"excellent", grades.GradeC},
	}
	for _, tt := range tests {
		if got := normalizeGrade(tt.in); got != tt.want {
			t.Errorf("normalizeGrade(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestClientGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"graded"}]}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	text, err := c.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "graded" {
		t.Errorf("text = %q, want graded", text)
	}
}

func TestClientGenerateErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"resource exhausted"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Error("Generate succeeded on a 429")
	}
}
