package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/analysis"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// Analyzer grades a session transcript.
type Analyzer interface {
	AnalyzeSession(ctx context.Context, transcript string) analysis.Result
}

// NoteSource supplies the newest session transcript for a student/month.
type NoteSource interface {
	Transcript(studentID, month string) (string, error)
}

// Store is the subset of the storage layer the service needs.
type Store interface {
	ListStudents(status string) ([]storage.Student, error)
	GetStudent(id string) (storage.Student, error)
	GetAbsence(studentID, month string) (storage.AbsenceRecord, error)
	GetPayment(studentID, month string) (storage.PaymentRecord, error)
	AppendEvaluation(row storage.EvaluationRow) error
	ListEvaluations(month string) ([]storage.EvaluationRow, error)
}

// Report aggregates one monthly rubric run.
type Report struct {
	Month        string   `json:"month"`
	SuccessCount int      `json:"successCount"`
	ErrorCount   int      `json:"errorCount"`
	Errors       []string `json:"errors"`
	Results      []Result `json:"results"`
}

// Service runs the monthly rubric evaluation over the roster.
type Service struct {
	store    Store
	analyzer Analyzer
	notes    NoteSource
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(store Store, analyzer Analyzer, notes NoteSource) *Service {
	return &Service{
		store:    store,
		analyzer: analyzer,
		notes:    notes,
		logger:   slog.Default(),
	}
}

// EvaluateMonth grades every active student (or the explicit studentIDs
// subset) for month and appends each result to the audit log. Per-student
// failures are collected, not propagated.
func (s *Service) EvaluateMonth(ctx context.Context, month string, studentIDs []string) (*Report, error) {
	students, err := s.selectStudents(studentIDs)
	if err != nil {
		return nil, err
	}

	report := &Report{Month: month, Errors: []string{}, Results: []Result{}}
	for _, student := range students {
		result, err := s.evaluateOne(ctx, student, month)
		if err != nil {
			report.ErrorCount++
			report.Errors = append(report.Errors,
				fmt.Sprintf("%s(%s): %v", student.Name, student.ID, err))
			continue
		}
		report.SuccessCount++
		report.Results = append(report.Results, result)
	}

	s.logger.Info("rubric evaluation finished",
		"month", month, "success", report.SuccessCount, "errors", report.ErrorCount)
	return report, nil
}

func (s *Service) selectStudents(studentIDs []string) ([]storage.Student, error) {
	if len(studentIDs) == 0 {
		students, err := s.store.ListStudents("active")
		if err != nil {
			return nil, fmt.Errorf("listing students: %w", err)
		}
		return students, nil
	}
	students := make([]storage.Student, 0, len(studentIDs))
	for _, id := range studentIDs {
		st, err := s.store.GetStudent(id)
		if err != nil {
			return nil, fmt.Errorf("loading student %s: %w", id, err)
		}
		students = append(students, st)
	}
	return students, nil
}

func (s *Service) evaluateOne(ctx context.Context, student storage.Student, month string) (Result, error) {
	input := Input{Student: student, Month: month}

	if absence, err := s.store.GetAbsence(student.ID, month); err == nil {
		input.Absence = &absence
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("loading absence record: %w", err)
	}
	if payment, err := s.store.GetPayment(student.ID, month); err == nil {
		input.Payment = &payment
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Result{}, fmt.Errorf("loading payment record: %w", err)
	}

	input.Analysis = s.analyzeNotes(ctx, student, month)

	result := Evaluate(input)
	if err := s.store.AppendEvaluation(ToRow(result)); err != nil {
		return Result{}, fmt.Errorf("persisting evaluation: %w", err)
	}
	return result, nil
}

// analyzeNotes runs the transcript analysis, degrading to neutral grades
// when no session note exists for the month.
func (s *Service) analyzeNotes(ctx context.Context, student storage.Student, month string) analysis.Result {
	transcript, err := s.notes.Transcript(student.ID, month)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("loading session note failed",
				"student_id", student.ID, "month", month, "error", err)
		}
		return missingNoteResult()
	}
	return s.analyzer.AnalyzeSession(ctx, transcript)
}

func missingNoteResult() analysis.Result {
	const reason = "分析エラー: セッションノートが見つかりません"
	return analysis.Result{
		Lateness:        analysis.CategoryResult{Grade: grades.GradeC, Reason: reason},
		Mission:         analysis.CategoryResult{Grade: grades.GradeC, Reason: reason},
		ActiveListening: analysis.CategoryResult{Grade: grades.GradeC, Reason: reason},
		Comprehension: analysis.ComprehensionResult{
			Grade: grades.GradeC, TotalQuestions: 5, Reason: reason,
		},
	}
}

// History returns the stored evaluations for a month.
func (s *Service) History(month string) ([]storage.EvaluationRow, error) {
	return s.store.ListEvaluations(month)
}
