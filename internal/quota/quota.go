// Package quota tracks API usage budgets so an evaluation run never burns
// the credentials dry. YouTube's Data API resets daily; the X Basic plan's
// Posts budget resets monthly. Each provider keeps a safety margin below
// the hard limit, and a persisted counter survives process restarts.
package quota

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
)

// Provider identifies a quota budget.
type Provider string

const (
	ProviderYouTube Provider = "youtube"
	ProviderX       Provider = "x"
)

// ErrUnknownProvider is returned for any provider this tracker does not
// budget.
var ErrUnknownProvider = errors.New("unknown quota provider")

// limits holds a provider's budget parameters.
type limits struct {
	hardLimit    int
	safetyMargin int
	// perStudent is the average cost of evaluating one student in the
	// provider's unit (Data API units for YouTube, Posts requests for X).
	perStudent int
	// daily periods are keyed YYYY-MM-DD, monthly ones YYYY-MM.
	daily bool
}

var providerLimits = map[Provider]limits{
	// Channel lookup (1) + search.list (100) + ~20 video details.
	ProviderYouTube: {hardLimit: 10000, safetyMargin: 1000, perStudent: 121, daily: true},
	// One Posts page per student; the user lookup is budgeted separately.
	ProviderX: {hardLimit: 15000, safetyMargin: 1000, perStudent: 1, daily: false},
}

// Status is the current budget position of one provider.
type Status struct {
	Provider     Provider `json:"provider"`
	Period       string   `json:"period"`
	HardLimit    int      `json:"hardLimit"`
	SafetyMargin int      `json:"safetyMargin"`
	UsableLimit  int      `json:"usableLimit"`
	UsedUnits    int      `json:"usedUnits"`
	Remaining    int      `json:"remaining"`
}

// Capacity estimates how many more students the remaining budget covers.
type Capacity struct {
	Provider        Provider `json:"provider"`
	Remaining       int      `json:"remaining"`
	PerStudentUnits int      `json:"perStudentUnits"`
	MaxStudents     int      `json:"maxStudents"`
	CanProceed      bool     `json:"canProceed"`
}

// Store is the subset of the storage layer the tracker needs.
type Store interface {
	AppendQuotaRow(row storage.QuotaRow) error
	LatestQuotaRow(provider string) (storage.QuotaRow, error)
}

// Tracker maintains per-provider usage counters with automatic period
// rollover.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex // serializes read-modify-write of the counter
	group singleflight.Group
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// currentPeriod returns the active period key for a provider.
func (t *Tracker) currentPeriod(lim limits) string {
	now := t.now().UTC()
	if lim.daily {
		return now.Format("2006-01-02")
	}
	return now.Format("2006-01")
}

// GetStatus returns the provider's budget position for the current
// period. A stored counter from an older period reads as zero usage; the
// reset is made durable on the next RecordUsage. Concurrent callers for
// the same provider share one store read.
func (t *Tracker) GetStatus(provider Provider) (Status, error) {
	lim, ok := providerLimits[provider]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	v, err, _ := t.group.Do(string(provider), func() (any, error) {
		return t.loadStatus(provider, lim), nil
	})
	if err != nil {
		return Status{}, err
	}
	return v.(Status), nil
}

func (t *Tracker) loadStatus(provider Provider, lim limits) Status {
	period := t.currentPeriod(lim)
	usable := lim.hardLimit - lim.safetyMargin
	status := Status{
		Provider:     provider,
		Period:       period,
		HardLimit:    lim.hardLimit,
		SafetyMargin: lim.safetyMargin,
		UsableLimit:  usable,
		Remaining:    usable,
	}

	row, err := t.store.LatestQuotaRow(string(provider))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			// A broken counter must not block evaluations; assume a
			// full budget and let the provider's own 429s backstop us.
			t.logger.Warn("quota read failed, assuming full budget",
				"provider", provider, "error", err)
		}
		return status
	}
	if row.Period != period {
		t.logger.Info("quota period rolled over",
			"provider", provider, "previous", row.Period, "current", period)
		return status
	}

	status.UsedUnits = row.TotalUnits
	status.Remaining = usable - row.TotalUnits
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	return status
}

// RecordUsage adds units to the provider's counter for the current
// period. Persistence failures are logged and swallowed so a run keeps
// going on an in-memory best guess.
func (t *Tracker) RecordUsage(provider Provider, units int) (Status, error) {
	lim, ok := providerLimits[provider]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if units < 0 {
		return Status{}, fmt.Errorf("negative usage %d for %s", units, provider)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	status := t.loadStatus(provider, lim)
	status.UsedUnits += units
	status.Remaining = status.UsableLimit - status.UsedUnits
	if status.Remaining < 0 {
		status.Remaining = 0
	}

	row := storage.QuotaRow{
		ID:         uuid.NewString(),
		Provider:   string(provider),
		Period:     status.Period,
		TotalUnits: status.UsedUnits,
		Remaining:  status.Remaining,
		RecordedAt: t.now(),
	}
	if err := t.store.AppendQuotaRow(row); err != nil {
		t.logger.Warn("quota write failed, counter not persisted",
			"provider", provider, "units", units, "error", err)
	}
	return status, nil
}

// EstimateCapacity reports how many students the remaining budget covers.
// MaxStudents is clamped to studentCount when a candidate count is given;
// CanProceed is false only when the budget covers nobody at all, since an
// oversized window is clipped rather than refused.
func (t *Tracker) EstimateCapacity(provider Provider, studentCount int) (Capacity, error) {
	lim, ok := providerLimits[provider]
	if !ok {
		return Capacity{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	status, err := t.GetStatus(provider)
	if err != nil {
		return Capacity{}, err
	}

	headroom := status.Remaining / lim.perStudent
	maxStudents := headroom
	if studentCount > 0 && maxStudents > studentCount {
		maxStudents = studentCount
	}
	return Capacity{
		Provider:        provider,
		Remaining:       status.Remaining,
		PerStudentUnits: lim.perStudent,
		MaxStudents:     maxStudents,
		CanProceed:      status.Remaining > 0 && headroom > 0,
	}, nil
}

// Providers lists the budgets this tracker knows, in stable order.
func Providers() []Provider {
	return []Provider{ProviderYouTube, ProviderX}
}
