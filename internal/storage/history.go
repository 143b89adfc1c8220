package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendEvaluation writes one completed rubric evaluation to the audit log.
func (s *Store) AppendEvaluation(row EvaluationRow) error {
	_, err := s.db.Exec(`
		INSERT INTO evaluation_history
			(id, month, student_id, student_name, absence, lateness, mission, payment,
			 active_listening, comprehension, overall, comments, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Month, row.StudentID, row.StudentName,
		row.Absence, row.Lateness, row.Mission, row.Payment,
		row.ActiveListening, row.Comprehension, row.Overall, row.Comments,
		row.EvaluatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListEvaluations returns the audit rows for a month ordered by student id.
func (s *Store) ListEvaluations(month string) ([]EvaluationRow, error) {
	rows, err := s.db.Query(`
		SELECT id, month, student_id, student_name, absence, lateness, mission, payment,
		       active_listening, comprehension, overall, comments, evaluated_at
		FROM evaluation_history
		WHERE month = ?
		ORDER BY student_id ASC, evaluated_at DESC`, month,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EvaluationRow
	for rows.Next() {
		var r EvaluationRow
		var evaluatedAt string
		if err := rows.Scan(&r.ID, &r.Month, &r.StudentID, &r.StudentName,
			&r.Absence, &r.Lateness, &r.Mission, &r.Payment,
			&r.ActiveListening, &r.Comprehension, &r.Overall, &r.Comments,
			&evaluatedAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, evaluatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing evaluated_at: %w", err)
		}
		r.EvaluatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// SaveMetricSnapshot appends the headline metrics of a social evaluation.
func (s *Store) SaveMetricSnapshot(snap MetricSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO metric_snapshots (id, student_id, source, month, followers, engagement, impressions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.StudentID, snap.Source, snap.Month,
		snap.Followers, snap.Engagement, snap.Impressions,
		snap.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// PriorSnapshot returns the newest snapshot for the student/source strictly
// before the given month. Months sort lexicographically (YYYY-MM).
func (s *Store) PriorSnapshot(studentID, source, beforeMonth string) (MetricSnapshot, error) {
	var snap MetricSnapshot
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, student_id, source, month, followers, engagement, impressions, created_at
		FROM metric_snapshots
		WHERE student_id = ? AND source = ? AND month < ?
		ORDER BY month DESC, created_at DESC LIMIT 1`,
		studentID, source, beforeMonth,
	).Scan(&snap.ID, &snap.StudentID, &snap.Source, &snap.Month,
		&snap.Followers, &snap.Engagement, &snap.Impressions, &createdAt)
	if err == sql.ErrNoRows {
		return MetricSnapshot{}, ErrNotFound
	}
	if err != nil {
		return MetricSnapshot{}, err
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return MetricSnapshot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return snap, nil
}
