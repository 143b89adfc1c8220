package evaluation

import (
	"context"
	"strings"
	"testing"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/analysis"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

type memStore struct {
	students []storage.Student
	absences map[string]storage.AbsenceRecord
	payments map[string]storage.PaymentRecord
	rows     []storage.EvaluationRow
}

func (m *memStore) ListStudents(status string) ([]storage.Student, error) {
	var out []storage.Student
	for _, s := range m.students {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetStudent(id string) (storage.Student, error) {
	for _, s := range m.students {
		if s.ID == id {
			return s, nil
		}
	}
	return storage.Student{}, storage.ErrNotFound
}

func (m *memStore) GetAbsence(studentID, month string) (storage.AbsenceRecord, error) {
	if a, ok := m.absences[studentID+"/"+month]; ok {
		return a, nil
	}
	return storage.AbsenceRecord{}, storage.ErrNotFound
}

func (m *memStore) GetPayment(studentID, month string) (storage.PaymentRecord, error) {
	if p, ok := m.payments[studentID+"/"+month]; ok {
		return p, nil
	}
	return storage.PaymentRecord{}, storage.ErrNotFound
}

func (m *memStore) AppendEvaluation(row storage.EvaluationRow) error {
	m.rows = append(m.rows, row)
	return nil
}

func (m *memStore) ListEvaluations(month string) ([]storage.EvaluationRow, error) {
	var out []storage.EvaluationRow
	for _, r := range m.rows {
		if r.Month == month {
			out = append(out, r)
		}
	}
	return out, nil
}

type stubAnalyzer struct {
	result analysis.Result
	calls  int
}

func (s *stubAnalyzer) AnalyzeSession(ctx context.Context, transcript string) analysis.Result {
	s.calls++
	return s.result
}

type stubNotes struct {
	transcripts map[string]string
}

func (s *stubNotes) Transcript(studentID, month string) (string, error) {
	if t, ok := s.transcripts[studentID+"/"+month]; ok {
		return t, nil
	}
	return "", storage.ErrNotFound
}

func goodAnalysis() analysis.Result {
	return analysis.Result{
		Lateness:        analysis.CategoryResult{Grade: grades.GradeS, Reason: "遅刻なし"},
		Mission:         analysis.CategoryResult{Grade: grades.GradeA, Reason: "課題を完走"},
		ActiveListening: analysis.CategoryResult{Grade: grades.GradeB, Reason: "相槌は十分"},
		Comprehension: analysis.ComprehensionResult{
			Grade: grades.GradeB, CorrectAnswers: 3, TotalQuestions: 5, Reason: "5問中3問正解",
		},
	}
}

func TestEvaluateMonth(t *testing.T) {
	store := &memStore{
		students: []storage.Student{
			{ID: "VS2024-001", Name: "蒼井ひなた", Status: "active"},
			{ID: "VS2024-002", Name: "月城れん", Status: "active"},
			{ID: "VS2024-003", Name: "退会済み", Status: "withdrawn"},
		},
		absences: map[string]storage.AbsenceRecord{
			"VS2024-002/2025-07": {StudentID: "VS2024-002", Month: "2025-07", AbsenceCount: 2},
		},
		payments: map[string]storage.PaymentRecord{},
	}
	notes := &stubNotes{transcripts: map[string]string{
		"VS2024-001/2025-07": "先生: こんにちは",
		"VS2024-002/2025-07": "先生: こんにちは",
	}}
	az := &stubAnalyzer{result: goodAnalysis()}
	svc := NewService(store, az, notes)

	report, err := svc.EvaluateMonth(context.Background(), "2025-07", nil)
	if err != nil {
		t.Fatalf("EvaluateMonth: %v", err)
	}
	if report.SuccessCount != 2 || report.ErrorCount != 0 {
		t.Fatalf("report = %+v, want 2 successes over active students only", report)
	}
	if az.calls != 2 {
		t.Errorf("analyzer calls = %d, want 2", az.calls)
	}
	if len(store.rows) != 2 {
		t.Errorf("audit rows = %d, want 2", len(store.rows))
	}

	// The 2-absence student drops to B on that category.
	for _, r := range report.Results {
		if r.StudentID == "VS2024-002" && r.Scores.Absence != grades.GradeB {
			t.Errorf("absence grade = %s, want B for 2 absences", r.Scores.Absence)
		}
	}
}

func TestEvaluateMonthExplicitSubset(t *testing.T) {
	store := &memStore{
		students: []storage.Student{
			{ID: "VS2024-001", Name: "蒼井ひなた", Status: "active"},
			{ID: "VS2024-002", Name: "月城れん", Status: "active"},
		},
	}
	svc := NewService(store, &stubAnalyzer{result: goodAnalysis()}, &stubNotes{})

	report, err := svc.EvaluateMonth(context.Background(), "2025-07", []string{"VS2024-002"})
	if err != nil {
		t.Fatalf("EvaluateMonth: %v", err)
	}
	if report.SuccessCount != 1 || report.Results[0].StudentID != "VS2024-002" {
		t.Errorf("report = %+v, want only the requested student", report)
	}
}

func TestEvaluateMonthUnknownStudent(t *testing.T) {
	svc := NewService(&memStore{}, &stubAnalyzer{}, &stubNotes{})
	if _, err := svc.EvaluateMonth(context.Background(), "2025-07", []string{"VS2099-999"}); err == nil {
		t.Error("EvaluateMonth accepted an unknown student id")
	}
}

func TestMissingNoteFallsBackToNeutral(t *testing.T) {
	store := &memStore{
		students: []storage.Student{{ID: "VS2024-001", Name: "蒼井ひなた", Status: "active"}},
	}
	az := &stubAnalyzer{result: goodAnalysis()}
	svc := NewService(store, az, &stubNotes{})

	report, err := svc.EvaluateMonth(context.Background(), "2025-07", nil)
	if err != nil {
		t.Fatalf("EvaluateMonth: %v", err)
	}
	if az.calls != 0 {
		t.Errorf("analyzer called %d times without a transcript", az.calls)
	}
	r := report.Results[0]
	if r.Scores.Mission != grades.GradeC || r.Scores.ActiveListening != grades.GradeC {
		t.Errorf("scores = %+v, want neutral C without a note", r.Scores)
	}
	if !strings.Contains(r.Comments, "分析エラー") {
		t.Errorf("comments = %q, want the analysis-error reason surfaced", r.Comments)
	}
}

func TestHistory(t *testing.T) {
	store := &memStore{
		students: []storage.Student{{ID: "VS2024-001", Name: "蒼井ひなた", Status: "active"}},
	}
	svc := NewService(store, &stubAnalyzer{result: goodAnalysis()}, &stubNotes{})

	if _, err := svc.EvaluateMonth(context.Background(), "2025-07", nil); err != nil {
		t.Fatalf("EvaluateMonth: %v", err)
	}
	rows, err := svc.History("2025-07")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(rows) != 1 || rows[0].StudentID != "VS2024-001" {
		t.Errorf("rows = %+v", rows)
	}
	if rows, _ := svc.History("2025-06"); len(rows) != 0 {
		t.Errorf("June rows = %d, want 0", len(rows))
	}
}
