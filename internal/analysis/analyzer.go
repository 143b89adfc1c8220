package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
)

// CategoryResult is one graded rubric category with the model's reasoning.
type CategoryResult struct {
	Grade  grades.Grade `json:"grade"`
	Reason string       `json:"reason"`
}

// ComprehensionResult also carries the oral-quiz score behind the grade.
type ComprehensionResult struct {
	Grade          grades.Grade `json:"grade"`
	CorrectAnswers int          `json:"correctAnswers"`
	TotalQuestions int          `json:"totalQuestions"`
	Reason         string       `json:"reason"`
}

// Result is the full qualitative judgment for one session note.
type Result struct {
	Lateness        CategoryResult      `json:"lateness"`
	Mission         CategoryResult      `json:"mission"`
	ActiveListening CategoryResult      `json:"activeListening"`
	Comprehension   ComprehensionResult `json:"comprehension"`
}

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Analyzer grades session notes through a Generator.
type Analyzer struct {
	gen    Generator
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer over the given Generator.
func NewAnalyzer(gen Generator) *Analyzer {
	return &Analyzer{gen: gen, logger: slog.Default()}
}

// AnalyzeSession grades the transcript of one training session. A failed
// call or an unparseable response never fails the evaluation run; it
// degrades to all-C with the error recorded in each reason.
func (a *Analyzer) AnalyzeSession(ctx context.Context, transcript string) Result {
	text, err := a.gen.Generate(ctx, analysisPrompt(transcript))
	if err != nil {
		a.logger.Warn("session analysis failed, using fallback grades", "error", err)
		return fallbackResult(err)
	}

	raw, err := extractJSON(text)
	if err != nil {
		a.logger.Warn("session analysis returned no JSON, using fallback grades",
			"error", err, "preview", preview(text, 200))
		return fallbackResult(err)
	}

	var parsed rawResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		a.logger.Warn("session analysis JSON malformed, using fallback grades", "error", err)
		return fallbackResult(err)
	}
	return normalize(parsed)
}

// analysisPrompt builds the Japanese grading instructions around the
// transcript. The rubric wording matches what the school staff hand to
// human graders.
func analysisPrompt(transcript string) string {
	return `あなたはVTuber育成スクールの評価AIです。以下のレッスンのトークメモを分析し、生徒の成長度を評価してください。

【トークメモ】
` + transcript + `

【評価項目と基準】
1. **遅刻評価（S or D の2段階）**
   - トーク内で遅刻に関する話題がなければS評価
   - 遅刻の話題があればD評価

2. **ミッション評価（S〜Dの5段階）**
   - ミッションの達成度や取り組み姿勢を評価
   - S: 完璧な達成、A: 良好、B: 普通、C: やや不十分、D: 不十分

3. **アクティブリスニング評価（S〜Dの5段階）**
   - 先生の話に対して適切に反応しているか
   - 相槌、質問、フィードバックの質を評価
   - S: 非常に優れた傾聴、A: 良好、B: 普通、C: やや不足、D: 不足

4. **理解度評価（S〜Dの5段階）**
   - 先生が口頭で出す質問の正解数をカウント（全5問想定）
   - 正解数に応じて評価: 5問→S, 4問→A, 3問→B, 2問→C, 1問以下→D
   - トーク内で質問と回答のやり取りを特定してカウント

【出力形式】
以下のJSON形式で出力してください：
{
  "lateness": {"grade": "S", "reason": "遅刻に関する言及なし"},
  "mission": {"grade": "A", "reason": "ミッションを適切に理解し取り組んでいる"},
  "activeListening": {"grade": "B", "reason": "基本的な相槌はあるが、深い質問が少ない"},
  "comprehension": {"grade": "A", "correctAnswers": 4, "totalQuestions": 5, "reason": "5問中4問正解。概ね理解している"}
}

評価理由は具体的かつ簡潔に記述してください。`
}

// rawResult accepts whatever field values the model produced before
// normalization.
type rawResult struct {
	Lateness        rawCategory `json:"lateness"`
	Mission         rawCategory `json:"mission"`
	ActiveListening rawCategory `json:"activeListening"`
	Comprehension   struct {
		Grade          string `json:"grade"`
		CorrectAnswers int    `json:"correctAnswers"`
		TotalQuestions int    `json:"totalQuestions"`
		Reason         string `json:"reason"`
	} `json:"comprehension"`
}

type rawCategory struct {
	Grade  string `json:"grade"`
	Reason string `json:"reason"`
}

func normalize(r rawResult) Result {
	out := Result{
		Lateness:        CategoryResult{Grade: normalizeGrade(r.Lateness.Grade), Reason: r.Lateness.Reason},
		Mission:         CategoryResult{Grade: normalizeGrade(r.Mission.Grade), Reason: r.Mission.Reason},
		ActiveListening: CategoryResult{Grade: normalizeGrade(r.ActiveListening.Grade), Reason: r.ActiveListening.Reason},
		Comprehension: ComprehensionResult{
			Grade:          normalizeGrade(r.Comprehension.Grade),
			CorrectAnswers: r.Comprehension.CorrectAnswers,
			TotalQuestions: r.Comprehension.TotalQuestions,
			Reason:         r.Comprehension.Reason,
		},
	}
	if out.Comprehension.TotalQuestions == 0 {
		out.Comprehension.TotalQuestions = 5
	}
	return out
}

// normalizeGrade maps arbitrary model output onto a valid grade, C when
// unrecognized.
func normalizeGrade(s string) grades.Grade {
	g := grades.Grade(strings.ToUpper(strings.TrimSpace(s)))
	if g.Valid() {
		return g
	}
	return grades.GradeC
}

func fallbackResult(err error) Result {
	reason := fmt.Sprintf("分析エラー: %v", err)
	return Result{
		Lateness:        CategoryResult{Grade: grades.GradeC, Reason: reason},
		Mission:         CategoryResult{Grade: grades.GradeC, Reason: reason},
		ActiveListening: CategoryResult{Grade: grades.GradeC, Reason: reason},
		Comprehension: ComprehensionResult{
			Grade:          grades.GradeC,
			CorrectAnswers: 0,
			TotalQuestions: 5,
			Reason:         reason,
		},
	}
}

var (
	codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	bareJSONRe  = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractJSON pulls the JSON object out of a model response that may wrap
// it in a Markdown code fence or surround it with prose.
func extractJSON(text string) ([]byte, error) {
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		return []byte(m[1]), nil
	}
	if m := bareJSONRe.FindString(text); m != "" {
		return []byte(m), nil
	}
	return nil, fmt.Errorf("no JSON object in response")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
