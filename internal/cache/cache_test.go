package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

type memStore struct {
	rows    []storage.CacheRow
	readErr error
	putErr  error
}

func (m *memStore) AppendCacheEntry(row storage.CacheRow) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.rows = append(m.rows, row)
	return nil
}

func (m *memStore) LatestCacheEntry(studentID, month, source string) (storage.CacheRow, error) {
	if m.readErr != nil {
		return storage.CacheRow{}, m.readErr
	}
	var best *storage.CacheRow
	for i := range m.rows {
		r := &m.rows[i]
		if r.StudentID != studentID || r.Month != month || r.Source != source {
			continue
		}
		if best == nil || !r.CachedAt.Before(best.CachedAt) {
			best = r
		}
	}
	if best == nil {
		return storage.CacheRow{}, storage.ErrNotFound
	}
	return *best, nil
}

type ytRecord struct {
	VideosInMonth   int   `json:"videosInMonth"`
	SubscriberCount int   `json:"subscriberCount"`
	TotalViews      int64 `json:"totalViews"`
}

func newTestCache(store Store, at time.Time) *Cache {
	c := New(store)
	c.now = func() time.Time { return at }
	return c
}

func TestPutThenGet(t *testing.T) {
	store := &memStore{}
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	c := newTestCache(store, base)

	rec := ytRecord{VideosInMonth: 8, SubscriberCount: 1200, TotalViews: 50000}
	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, ok := c.Get("VS2024-001", "2025-07", SourceYouTube)
	if !ok {
		t.Fatal("Get miss right after Put")
	}
	if entry.StudentName != "蒼井ひなた" || entry.Source != SourceYouTube {
		t.Errorf("entry = %+v", entry)
	}
	if want := base.Add(TTL); !entry.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, want)
	}
}

func TestTTLBoundary(t *testing.T) {
	store := &memStore{}
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	c := newTestCache(store, base)

	rec := ytRecord{VideosInMonth: 8, SubscriberCount: 1200, TotalViews: 50000}
	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c.now = func() time.Time { return base.Add(23*time.Hour + 59*time.Minute) }
	if _, ok := c.Get("VS2024-001", "2025-07", SourceYouTube); !ok {
		t.Error("miss just inside the TTL window")
	}

	c.now = func() time.Time { return base.Add(24*time.Hour + time.Second) }
	if _, ok := c.Get("VS2024-001", "2025-07", SourceYouTube); ok {
		t.Error("hit just past the TTL window")
	}
}

func TestIncompleteYouTubeRecordForcesMiss(t *testing.T) {
	store := &memStore{}
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	c := newTestCache(store, base)

	// Fresh but missing the view counter; must not be served.
	rec := ytRecord{VideosInMonth: 8, SubscriberCount: 1200, TotalViews: 0}
	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("VS2024-001", "2025-07", SourceYouTube); ok {
		t.Error("incomplete record served from cache")
	}
}

func TestRateLimitedXRecordForcesMiss(t *testing.T) {
	store := &memStore{}
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	c := newTestCache(store, base)

	type xRecord struct {
		FollowersCount int  `json:"followersCount"`
		RateLimited    bool `json:"rateLimited"`
	}
	if err := c.Put("VS2024-002", "月城れん", "2025-07", SourceX, xRecord{FollowersCount: 900, RateLimited: true}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("VS2024-002", "2025-07", SourceX); ok {
		t.Error("rate-limited record served from cache")
	}

	if err := c.Put("VS2024-002", "月城れん", "2025-07", SourceX, xRecord{FollowersCount: 950}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := c.Get("VS2024-002", "2025-07", SourceX); !ok {
		t.Error("complete record not served after a fresh append")
	}
}

func TestLatestAppendWins(t *testing.T) {
	store := &memStore{}
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)
	c := newTestCache(store, base)

	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube,
		ytRecord{VideosInMonth: 3, SubscriberCount: 1000, TotalViews: 10000}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.now = func() time.Time { return base.Add(time.Hour) }
	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube,
		ytRecord{VideosInMonth: 9, SubscriberCount: 1300, TotalViews: 60000}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entry, ok := c.Get("VS2024-001", "2025-07", SourceYouTube)
	if !ok {
		t.Fatal("Get miss")
	}
	if len(store.rows) != 2 {
		t.Errorf("rows = %d, want 2 (append-only)", len(store.rows))
	}
	var rec ytRecord
	mustUnmarshal(t, entry.DataJSON, &rec)
	if rec.VideosInMonth != 9 {
		t.Errorf("served VideosInMonth = %d, want 9 (newest append)", rec.VideosInMonth)
	}
}

func TestStoreErrorsDegrade(t *testing.T) {
	base := time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

	c := newTestCache(&memStore{readErr: errors.New("disk gone")}, base)
	if _, ok := c.Get("VS2024-001", "2025-07", SourceYouTube); ok {
		t.Error("Get returned a hit on a failing store")
	}

	c = newTestCache(&memStore{putErr: errors.New("disk gone")}, base)
	err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", SourceYouTube,
		ytRecord{VideosInMonth: 1, SubscriberCount: 1, TotalViews: 1})
	if err == nil {
		t.Error("Put swallowed the store error")
	}
}

func TestPutRejectsUnknownSource(t *testing.T) {
	c := New(&memStore{})
	if err := c.Put("VS2024-001", "蒼井ひなた", "2025-07", "tiktok", struct{}{}); err == nil {
		t.Error("Put accepted an unknown source")
	}
}

func mustUnmarshal(t *testing.T, data string, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}
