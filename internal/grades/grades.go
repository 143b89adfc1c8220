// Package grades holds the school's grading rubric: pure functions mapping
// raw metric counts to the S/A/B/C/D scale. Threshold values are product
// policy and must not be adjusted without sign-off from the school staff.
package grades

// Grade is an ordinal letter grade, best to worst.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Valid reports whether g is one of the five known grades.
func (g Grade) Valid() bool {
	switch g {
	case GradeS, GradeA, GradeB, GradeC, GradeD:
		return true
	}
	return false
}

// Points maps a grade to its point value (S=5 .. D=1).
// Unknown grades count as 0.
func (g Grade) Points() int {
	switch g {
	case GradeS:
		return 5
	case GradeA:
		return 4
	case GradeB:
		return 3
	case GradeC:
		return 2
	case GradeD:
		return 1
	}
	return 0
}

// gradeFromPoints is the inverse of Points. Out-of-range values fall back
// to B, matching the original rubric's default.
func gradeFromPoints(p int) Grade {
	switch p {
	case 5:
		return GradeS
	case 4:
		return GradeA
	case 3:
		return GradeB
	case 2:
		return GradeC
	case 1:
		return GradeD
	}
	return GradeB
}

// PaymentStatus is a student's tuition status for a month.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
)

// CategoryScores holds the six rubric category grades for one student/month.
type CategoryScores struct {
	Absence         Grade `json:"absence"`
	Lateness        Grade `json:"lateness"`
	Mission         Grade `json:"mission"`
	Payment         Grade `json:"payment"`
	ActiveListening Grade `json:"activeListening"`
	Comprehension   Grade `json:"comprehension"`
}

// EvaluateAbsence grades an absence count: 0=S, 1=A, 2=B, 3=C, 4+=D.
func EvaluateAbsence(count int) Grade {
	switch {
	case count <= 0:
		return GradeS
	case count == 1:
		return GradeA
	case count == 2:
		return GradeB
	case count == 3:
		return GradeC
	}
	return GradeD
}

// EvaluatePayment grades a payment status. The rubric is binary: unpaid is
// D, everything else (paid, partial, not on the unpaid list) is S.
func EvaluatePayment(status PaymentStatus) Grade {
	if status == PaymentUnpaid {
		return GradeD
	}
	return GradeS
}

// OverallGrade averages the six category grades: sum of points / 6, rounded
// half-up to the nearest integer, mapped back to a letter.
func OverallGrade(s CategoryScores) Grade {
	total := s.Absence.Points() +
		s.Lateness.Points() +
		s.Mission.Points() +
		s.Payment.Points() +
		s.ActiveListening.Points() +
		s.Comprehension.Points()

	// Round half up in integer arithmetic.
	avg := (total + 3) / 6
	return gradeFromPoints(avg)
}
