// Package evaluation assembles a student's monthly report card. Attendance
// and tuition come from the roster, the four qualitative categories from
// the session-note analysis; the six grades average into an overall grade
// and a staff-facing comment line.
package evaluation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/analysis"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// Result is one completed monthly evaluation.
type Result struct {
	EvaluationMonth string                `json:"evaluationMonth"`
	StudentID       string                `json:"studentId"`
	StudentName     string                `json:"studentName"`
	Scores          grades.CategoryScores `json:"scores"`
	OverallGrade    grades.Grade          `json:"overallGrade"`
	Comments        string                `json:"comments"`
	EvaluatedAt     time.Time             `json:"evaluatedAt"`
}

// Input carries everything an evaluation needs. Absence and Payment are
// nil when the roster has no record for the month; a student absent from
// the unpaid list counts as paid.
type Input struct {
	Student  storage.Student
	Month    string
	Absence  *storage.AbsenceRecord
	Payment  *storage.PaymentRecord
	Analysis analysis.Result
}

// Evaluate grades one student for the month.
func Evaluate(in Input) Result {
	absences := 0
	if in.Absence != nil {
		absences = in.Absence.AbsenceCount
	}
	payment := grades.PaymentPaid
	if in.Payment != nil {
		payment = grades.PaymentStatus(in.Payment.Status)
	}

	scores := grades.CategoryScores{
		Absence:         grades.EvaluateAbsence(absences),
		Lateness:        in.Analysis.Lateness.Grade,
		Mission:         in.Analysis.Mission.Grade,
		Payment:         grades.EvaluatePayment(payment),
		ActiveListening: in.Analysis.ActiveListening.Grade,
		Comprehension:   in.Analysis.Comprehension.Grade,
	}

	return Result{
		EvaluationMonth: in.Month,
		StudentID:       in.Student.ID,
		StudentName:     in.Student.Name,
		Scores:          scores,
		OverallGrade:    grades.OverallGrade(scores),
		Comments:        buildComments(scores, in.Analysis),
		EvaluatedAt:     time.Now(),
	}
}

// buildComments renders the staff-facing comment line: strengths and
// improvement points derived from the grades, then the analyzer's own
// reasoning for the qualitative categories. The payment grade stays out
// of the comment per school policy.
func buildComments(scores grades.CategoryScores, a analysis.Result) string {
	var parts []string

	var strengths []string
	if scores.Absence == grades.GradeS {
		strengths = append(strengths, "皆勤")
	}
	if scores.Lateness == grades.GradeS {
		strengths = append(strengths, "遅刻なし")
	}
	if scores.Mission == grades.GradeS || scores.Mission == grades.GradeA {
		strengths = append(strengths, "ミッション達成")
	}
	if len(strengths) > 0 {
		parts = append(parts, "【強み】"+strings.Join(strengths, "、"))
	}

	var improvements []string
	if weak(scores.Absence) {
		improvements = append(improvements, "出席率の改善")
	}
	if scores.Lateness == grades.GradeD {
		improvements = append(improvements, "時間厳守")
	}
	if weak(scores.Mission) {
		improvements = append(improvements, "ミッション取り組み")
	}
	if weak(scores.ActiveListening) {
		improvements = append(improvements, "傾聴姿勢")
	}
	if weak(scores.Comprehension) {
		improvements = append(improvements, "理解度向上")
	}
	if len(improvements) > 0 {
		parts = append(parts, "【改善点】"+strings.Join(improvements, "、"))
	}

	parts = append(parts,
		"【ミッション】"+a.Mission.Reason,
		"【傾聴力】"+a.ActiveListening.Reason,
		"【理解度】"+a.Comprehension.Reason,
	)

	return strings.Join(parts, " / ")
}

func weak(g grades.Grade) bool {
	return g == grades.GradeC || g == grades.GradeD
}

// ToRow converts a Result into its audit-table form.
func ToRow(r Result) storage.EvaluationRow {
	return storage.EvaluationRow{
		ID:              uuid.NewString(),
		Month:           r.EvaluationMonth,
		StudentID:       r.StudentID,
		StudentName:     r.StudentName,
		Absence:         string(r.Scores.Absence),
		Lateness:        string(r.Scores.Lateness),
		Mission:         string(r.Scores.Mission),
		Payment:         string(r.Scores.Payment),
		ActiveListening: string(r.Scores.ActiveListening),
		Comprehension:   string(r.Scores.Comprehension),
		Overall:         string(r.OverallGrade),
		Comments:        r.Comments,
		EvaluatedAt:     r.EvaluatedAt,
	}
}
