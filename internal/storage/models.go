package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Student is one row of the school roster.
type Student struct {
	ID         string // student number, e.g. "VS2024-001"
	Name       string
	Status     string // "active", "suspended", "withdrawn"
	ChannelID  string // YouTube channel id, may be empty
	XUsername  string // X handle without "@", may be empty
	EnrolledAt string // YYYY-MM
}

// AbsenceRecord is a student's absence count for one month.
type AbsenceRecord struct {
	StudentID    string
	Month        string // YYYY-MM
	AbsenceCount int
}

// PaymentRecord is a student's tuition status for one month.
type PaymentRecord struct {
	StudentID string
	Month     string // YYYY-MM
	Status    string // "paid", "unpaid", "partial"
}

// SessionNote is one imported talk-memo document.
type SessionNote struct {
	ID        string
	StudentID string
	Month     string // YYYY-MM
	Title     string
	Content   string
	CreatedAt time.Time
}

// CacheRow is one appended metrics-cache entry. Rows are never updated or
// deleted; readers select the newest row per (student, month, source) key.
type CacheRow struct {
	ID          string
	StudentID   string
	StudentName string
	Month       string // YYYY-MM
	Source      string // "youtube" or "x"
	DataJSON    string // serialized evaluation record
	CachedAt    time.Time
	ExpiresAt   time.Time
}

// QuotaRow is one appended quota-usage snapshot for a provider period.
type QuotaRow struct {
	ID         string
	Provider   string // "youtube" or "x"
	Period     string // YYYY-MM-DD for youtube, YYYY-MM for x
	TotalUnits int
	Remaining  int
	RecordedAt time.Time
}

// EvaluationRow is one completed rubric evaluation, appended for audit.
type EvaluationRow struct {
	ID              string
	Month           string // YYYY-MM
	StudentID       string
	StudentName     string
	Absence         string
	Lateness        string
	Mission         string
	Payment         string
	ActiveListening string
	Comprehension   string
	Overall         string
	Comments        string
	EvaluatedAt     time.Time
}

// MetricSnapshot records the headline numbers of a social evaluation so the
// next month's run can compute growth rates against them.
type MetricSnapshot struct {
	ID          string
	StudentID   string
	Source      string // "youtube" or "x"
	Month       string // YYYY-MM
	Followers   int    // subscribers for youtube
	Engagement  int64  // likes + comments, plus retweets + replies for x
	Impressions int64  // total views for youtube, impressions for x
	CreatedAt   time.Time
}
