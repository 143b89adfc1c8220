package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertStudent inserts or replaces a roster row.
func (s *Store) UpsertStudent(st Student) error {
	if st.Status == "" {
		st.Status = "active"
	}
	_, err := s.db.Exec(`
		INSERT INTO students (id, name, status, channel_id, x_username, enrolled_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			channel_id = excluded.channel_id,
			x_username = excluded.x_username,
			enrolled_at = excluded.enrolled_at`,
		st.ID, st.Name, st.Status, st.ChannelID, st.XUsername, st.EnrolledAt,
	)
	return err
}

// GetStudent returns the roster row for id.
func (s *Store) GetStudent(id string) (Student, error) {
	var st Student
	err := s.db.QueryRow(`
		SELECT id, name, status, channel_id, x_username, enrolled_at
		FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.Name, &st.Status, &st.ChannelID, &st.XUsername, &st.EnrolledAt)
	if err == sql.ErrNoRows {
		return Student{}, ErrNotFound
	}
	return st, err
}

// ListStudents returns the roster ordered by student id. When status is
// non-empty only students with that status are returned.
func (s *Store) ListStudents(status string) ([]Student, error) {
	query := `SELECT id, name, status, channel_id, x_username, enrolled_at FROM students`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(&st.ID, &st.Name, &st.Status, &st.ChannelID, &st.XUsername, &st.EnrolledAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// UpsertAbsence records a student's absence count for a month.
func (s *Store) UpsertAbsence(a AbsenceRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO absences (student_id, month, absence_count)
		VALUES (?, ?, ?)
		ON CONFLICT(student_id, month) DO UPDATE SET absence_count = excluded.absence_count`,
		a.StudentID, a.Month, a.AbsenceCount,
	)
	return err
}

// GetAbsence returns the absence count for a student/month.
func (s *Store) GetAbsence(studentID, month string) (AbsenceRecord, error) {
	var a AbsenceRecord
	err := s.db.QueryRow(`
		SELECT student_id, month, absence_count FROM absences
		WHERE student_id = ? AND month = ?`, studentID, month,
	).Scan(&a.StudentID, &a.Month, &a.AbsenceCount)
	if err == sql.ErrNoRows {
		return AbsenceRecord{}, ErrNotFound
	}
	return a, err
}

// UpsertPayment records a student's payment status for a month.
func (s *Store) UpsertPayment(p PaymentRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO payments (student_id, month, status)
		VALUES (?, ?, ?)
		ON CONFLICT(student_id, month) DO UPDATE SET status = excluded.status`,
		p.StudentID, p.Month, p.Status,
	)
	return err
}

// GetPayment returns the payment status for a student/month.
func (s *Store) GetPayment(studentID, month string) (PaymentRecord, error) {
	var p PaymentRecord
	err := s.db.QueryRow(`
		SELECT student_id, month, status FROM payments
		WHERE student_id = ? AND month = ?`, studentID, month,
	).Scan(&p.StudentID, &p.Month, &p.Status)
	if err == sql.ErrNoRows {
		return PaymentRecord{}, ErrNotFound
	}
	return p, err
}

// SaveSessionNote appends an imported talk-memo document.
func (s *Store) SaveSessionNote(n SessionNote) error {
	_, err := s.db.Exec(`
		INSERT INTO session_notes (id, student_id, month, title, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.StudentID, n.Month, n.Title, n.Content,
		n.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LatestSessionNote returns the most recently imported note for a
// student/month.
func (s *Store) LatestSessionNote(studentID, month string) (SessionNote, error) {
	var n SessionNote
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, student_id, month, title, content, created_at
		FROM session_notes
		WHERE student_id = ? AND month = ?
		ORDER BY created_at DESC LIMIT 1`, studentID, month,
	).Scan(&n.ID, &n.StudentID, &n.Month, &n.Title, &n.Content, &createdAt)
	if err == sql.ErrNoRows {
		return SessionNote{}, ErrNotFound
	}
	if err != nil {
		return SessionNote{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return SessionNote{}, fmt.Errorf("parsing created_at: %w", err)
	}
	n.CreatedAt = t
	return n, nil
}
