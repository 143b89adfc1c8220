package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendQuotaRow inserts a new quota-usage snapshot. The tracker appends a
// row per recorded usage; the newest row per provider is authoritative.
func (s *Store) AppendQuotaRow(row QuotaRow) error {
	_, err := s.db.Exec(`
		INSERT INTO quota_usage (id, provider, period, total_units, remaining, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.Provider, row.Period, row.TotalUnits, row.Remaining,
		row.RecordedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LatestQuotaRow returns the most recently recorded usage row for provider,
// regardless of which period it belongs to. Period rollover is the
// tracker's concern.
func (s *Store) LatestQuotaRow(provider string) (QuotaRow, error) {
	var row QuotaRow
	var recordedAt string
	err := s.db.QueryRow(`
		SELECT id, provider, period, total_units, remaining, recorded_at
		FROM quota_usage
		WHERE provider = ?
		ORDER BY recorded_at DESC LIMIT 1`, provider,
	).Scan(&row.ID, &row.Provider, &row.Period, &row.TotalUnits, &row.Remaining, &recordedAt)
	if err == sql.ErrNoRows {
		return QuotaRow{}, ErrNotFound
	}
	if err != nil {
		return QuotaRow{}, err
	}
	if row.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
		return QuotaRow{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return row, nil
}
