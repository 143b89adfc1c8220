package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// AppendCacheEntry inserts a new metrics-cache row. Existing rows for the
// same key are left in place; LatestCacheEntry resolves the winner.
func (s *Store) AppendCacheEntry(row CacheRow) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics_cache (id, student_id, student_name, month, source, data_json, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.StudentID, row.StudentName, row.Month, row.Source, row.DataJSON,
		row.CachedAt.UTC().Format(time.RFC3339),
		row.ExpiresAt.UTC().Format(time.RFC3339),
	)
	return err
}

// LatestCacheEntry returns the most recently written cache row for the
// (student, month, source) key, expired or not. TTL and completeness checks
// are the cache layer's concern.
func (s *Store) LatestCacheEntry(studentID, month, source string) (CacheRow, error) {
	var row CacheRow
	var cachedAt, expiresAt string
	err := s.db.QueryRow(`
		SELECT id, student_id, student_name, month, source, data_json, cached_at, expires_at
		FROM metrics_cache
		WHERE student_id = ? AND month = ? AND source = ?
		ORDER BY cached_at DESC LIMIT 1`,
		studentID, month, source,
	).Scan(&row.ID, &row.StudentID, &row.StudentName, &row.Month, &row.Source,
		&row.DataJSON, &cachedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return CacheRow{}, ErrNotFound
	}
	if err != nil {
		return CacheRow{}, err
	}
	if row.CachedAt, err = time.Parse(time.RFC3339, cachedAt); err != nil {
		return CacheRow{}, fmt.Errorf("parsing cached_at: %w", err)
	}
	if row.ExpiresAt, err = time.Parse(time.RFC3339, expiresAt); err != nil {
		return CacheRow{}, fmt.Errorf("parsing expires_at: %w", err)
	}
	return row, nil
}
