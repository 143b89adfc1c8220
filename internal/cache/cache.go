// Package cache layers a 24-hour TTL policy over the append-only
// metrics_cache table. A stored record is only served while it is fresh
// and complete; partial fetches are persisted for audit but never satisfy
// a read, so the next run retries the upstream API.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// TTL is how long a complete record satisfies reads.
const TTL = 24 * time.Hour

// Sources accepted by the cache. Anything else is rejected on write.
const (
	SourceYouTube = "youtube"
	SourceX       = "x"
)

// Store is the subset of the storage layer the cache needs.
type Store interface {
	AppendCacheEntry(row storage.CacheRow) error
	LatestCacheEntry(studentID, month, source string) (storage.CacheRow, error)
}

// Entry is a cache hit returned to callers.
type Entry struct {
	StudentID   string
	StudentName string
	Month       string
	Source      string
	DataJSON    string
	CachedAt    time.Time
	ExpiresAt   time.Time
}

// Cache reads and writes evaluation records with TTL and completeness
// enforcement.
type Cache struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Cache over the given store.
func New(store Store) *Cache {
	return &Cache{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// Get returns the newest stored record for the key if it is still fresh
// and complete. Storage errors degrade to a miss so a broken cache never
// blocks an evaluation run.
func (c *Cache) Get(studentID, month, source string) (*Entry, bool) {
	row, err := c.store.LatestCacheEntry(studentID, month, source)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("cache read failed, treating as miss",
				"student_id", studentID, "source", source, "error", err)
		}
		return nil, false
	}

	if c.now().After(row.ExpiresAt) {
		return nil, false
	}
	if !recordComplete(source, row.DataJSON) {
		c.logger.Info("cached record incomplete, forcing refresh",
			"student_id", studentID, "month", month, "source", source)
		return nil, false
	}

	return &Entry{
		StudentID:   row.StudentID,
		StudentName: row.StudentName,
		Month:       row.Month,
		Source:      row.Source,
		DataJSON:    row.DataJSON,
		CachedAt:    row.CachedAt,
		ExpiresAt:   row.ExpiresAt,
	}, true
}

// Put serializes data and appends it with a fresh TTL. Rows are never
// overwritten; the newest append wins on read.
func (c *Cache) Put(studentID, studentName, month, source string, data any) error {
	if source != SourceYouTube && source != SourceX {
		return fmt.Errorf("unknown cache source %q", source)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing %s record: %w", source, err)
	}

	now := c.now()
	row := storage.CacheRow{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		StudentName: studentName,
		Month:       month,
		Source:      source,
		DataJSON:    string(payload),
		CachedAt:    now,
		ExpiresAt:   now.Add(TTL),
	}
	if err := c.store.AppendCacheEntry(row); err != nil {
		return fmt.Errorf("writing %s cache entry: %w", source, err)
	}
	return nil
}

// completenessProbe picks out the fields that decide whether a stored
// record may be served or must be re-fetched.
type completenessProbe struct {
	// youtube
	VideosInMonth   int   `json:"videosInMonth"`
	SubscriberCount int   `json:"subscriberCount"`
	TotalViews      int64 `json:"totalViews"`
	// x
	RateLimited bool `json:"rateLimited"`
}

// recordComplete reports whether a stored record carries full upstream
// data. A YouTube record missing any headline counter and an X record
// flagged as rate limited are both treated as partial.
func recordComplete(source, dataJSON string) bool {
	var p completenessProbe
	if err := json.Unmarshal([]byte(dataJSON), &p); err != nil {
		return false
	}
	switch source {
	case SourceYouTube:
		return p.VideosInMonth > 0 && p.SubscriberCount > 0 && p.TotalViews > 0
	case SourceX:
		return !p.RateLimited
	default:
		return false
	}
}
