// Package batch drives the monthly metrics collection across the student
// population. One invocation processes a bounded window of students so an
// external scheduler can resume a multi-hundred-student run across calls;
// the auto mode chunks the whole population itself and cools down between
// chunks to stay inside provider rate windows.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/cache"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/quota"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/storage"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/xapi"
	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/youtube"
)

const (
	// DefaultBatchSize is the sub-batch size in auto mode.
	DefaultBatchSize = 50
	// DefaultCooldown is the pause between auto-mode sub-batches.
	DefaultCooldown = 15 * time.Minute
	// credentialRefreshInterval bounds how stale an upstream token may get
	// during a long run.
	credentialRefreshInterval = 30 * time.Minute
)

// Outcome tags the terminal state of one student in a run.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeCached    Outcome = "skipped-cached"
	OutcomePartial   Outcome = "rate-limited-partial"
	OutcomeError     Outcome = "error"
	OutcomeNoAccount Outcome = "skipped-no-account"
	OutcomeQuota     Outcome = "skipped-quota"
)

// StudentResult is the per-student outcome of a batch run.
type StudentResult struct {
	StudentID   string  `json:"studentId"`
	StudentName string  `json:"studentName"`
	Outcome     Outcome `json:"outcome"`
	UnitsUsed   int     `json:"unitsUsed"`
	Error       string  `json:"error,omitempty"`
}

// Summary aggregates one batch invocation.
type Summary struct {
	Source         string          `json:"source"`
	Month          string          `json:"month"`
	BatchIndex     int             `json:"batchIndex"`
	BatchSize      int             `json:"batchSize"`
	TotalStudents  int             `json:"totalStudents"`
	ProcessedCount int             `json:"processedCount"`
	SuccessCount   int             `json:"successCount"`
	PartialCount   int             `json:"partialCount"`
	SkippedCount   int             `json:"skippedCount"`
	ErrorCount     int             `json:"errorCount"`
	UnitsUsed      int             `json:"unitsUsed"`
	HasNextBatch   bool            `json:"hasNextBatch"`
	NextBatchIndex int             `json:"nextBatchIndex"`
	Errors         []string        `json:"errors"`
	Students       []StudentResult `json:"students"`
}

// YouTubeEvaluator fetches and scores one channel.
type YouTubeEvaluator interface {
	Evaluate(ctx context.Context, channelID, targetMonth string, prevSubscribers int) (*youtube.Evaluation, int, error)
}

// XEvaluator fetches and scores one account.
type XEvaluator interface {
	Evaluate(ctx context.Context, username, targetMonth string, base xapi.Baselines) (*xapi.Evaluation, int, error)
}

// CredentialRefresher renews short-lived upstream credentials mid-run.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// Store is the subset of the storage layer the orchestrator needs.
type Store interface {
	ListStudents(status string) ([]storage.Student, error)
	SaveMetricSnapshot(snap storage.MetricSnapshot) error
	PriorSnapshot(studentID, source, beforeMonth string) (storage.MetricSnapshot, error)
}

// Orchestrator runs metric collection for one source over student windows.
type Orchestrator struct {
	store   Store
	cache   *cache.Cache
	tracker *quota.Tracker
	yt      YouTubeEvaluator
	x       XEvaluator
	creds   CredentialRefresher // may be nil
	logger  *slog.Logger

	cooldown    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	lastRefresh time.Time
}

// New creates an Orchestrator. creds may be nil when the configured
// credentials do not expire.
func New(store Store, c *cache.Cache, tracker *quota.Tracker, yt YouTubeEvaluator, x XEvaluator, creds CredentialRefresher) *Orchestrator {
	return &Orchestrator{
		store:    store,
		cache:    c,
		tracker:  tracker,
		yt:       yt,
		x:        x,
		creds:    creds,
		logger:   slog.Default(),
		cooldown: DefaultCooldown,
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// population returns the active students eligible for the source, in
// roster order.
func (o *Orchestrator) population(source string) ([]storage.Student, error) {
	students, err := o.store.ListStudents("active")
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	eligible := make([]storage.Student, 0, len(students))
	for _, s := range students {
		if accountID(source, s) != "" {
			eligible = append(eligible, s)
		}
	}
	return eligible, nil
}

func accountID(source string, s storage.Student) string {
	switch source {
	case cache.SourceYouTube:
		return s.ChannelID
	case cache.SourceX:
		return s.XUsername
	}
	return ""
}

func providerFor(source string) quota.Provider {
	if source == cache.SourceX {
		return quota.ProviderX
	}
	return quota.ProviderYouTube
}

// RunBatch processes the (batchIndex, batchSize) window of the eligible
// population for month. batchSize <= 0 means the whole population in one
// window. Per-student failures land in the summary; only input and
// roster errors fail the call.
func (o *Orchestrator) RunBatch(ctx context.Context, source, month string, batchIndex, batchSize int) (*Summary, error) {
	if source != cache.SourceYouTube && source != cache.SourceX {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if batchIndex < 0 {
		return nil, fmt.Errorf("negative batch index %d", batchIndex)
	}

	population, err := o.population(source)
	if err != nil {
		return nil, err
	}
	return o.runWindow(ctx, source, month, population, batchIndex, batchSize)
}

// RunStudents processes an explicit subset, ignoring windowing. Students
// without a linked account for the source are reported, not dropped.
func (o *Orchestrator) RunStudents(ctx context.Context, source, month string, students []storage.Student) (*Summary, error) {
	if source != cache.SourceYouTube && source != cache.SourceX {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	return o.runWindow(ctx, source, month, students, 0, 0)
}

func (o *Orchestrator) runWindow(ctx context.Context, source, month string, population []storage.Student, batchIndex, batchSize int) (*Summary, error) {
	total := len(population)
	start, end := 0, total
	if batchSize > 0 {
		start = batchIndex * batchSize
		if start > total {
			start = total
		}
		end = start + batchSize
		if end > total {
			end = total
		}
	}
	window := population[start:end]

	summary := &Summary{
		Source:         source,
		Month:          month,
		BatchIndex:     batchIndex,
		BatchSize:      batchSize,
		TotalStudents:  total,
		HasNextBatch:   batchSize > 0 && end < total,
		NextBatchIndex: batchIndex + 1,
		Errors:         []string{},
		Students:       []StudentResult{},
	}
	if !summary.HasNextBatch {
		summary.NextBatchIndex = batchIndex
	}

	// Budget check before spending anything. Cache hits are free, so the
	// cap is conservative; the clipped students retry on the next run.
	capacity, err := o.tracker.EstimateCapacity(providerFor(source), len(window))
	if err != nil {
		return nil, err
	}
	limit := len(window)
	if capacity.MaxStudents < limit {
		o.logger.Warn("quota headroom below window size, clipping batch",
			"source", source, "window", limit, "max_students", capacity.MaxStudents)
		limit = capacity.MaxStudents
	}

	o.logger.Info("batch window started",
		"source", source, "month", month, "batch_index", batchIndex,
		"window", len(window), "population", total)

	for i, student := range window {
		// Clipped students hit the cache-or-fetch path fresh on the next
		// run once the period rolls over; they are deferred, not failed.
		if i >= limit {
			summary.add(StudentResult{
				StudentID:   student.ID,
				StudentName: student.Name,
				Outcome:     OutcomeQuota,
			})
			continue
		}
		if err := o.maybeRefreshCredentials(ctx); err != nil {
			o.logger.Warn("credential refresh failed, continuing with current token", "error", err)
		}
		summary.add(o.processStudent(ctx, source, month, student))
	}

	o.logger.Info("batch window finished",
		"source", source, "month", month, "batch_index", batchIndex,
		"success", summary.SuccessCount, "partial", summary.PartialCount,
		"skipped", summary.SkippedCount, "errors", summary.ErrorCount,
		"units", summary.UnitsUsed, "has_next", summary.HasNextBatch)
	return summary, nil
}

func (s *Summary) add(r StudentResult) {
	s.Students = append(s.Students, r)
	s.ProcessedCount++
	s.UnitsUsed += r.UnitsUsed
	switch r.Outcome {
	case OutcomeSuccess:
		s.SuccessCount++
	case OutcomePartial:
		s.PartialCount++
	case OutcomeCached, OutcomeNoAccount, OutcomeQuota:
		s.SkippedCount++
	case OutcomeError:
		s.ErrorCount++
	}
	if r.Error != "" {
		s.Errors = append(s.Errors, r.Error)
	}
}

// processStudent walks one student through cache check, fetch, cache
// write and snapshot persistence.
func (o *Orchestrator) processStudent(ctx context.Context, source, month string, student storage.Student) StudentResult {
	res := StudentResult{StudentID: student.ID, StudentName: student.Name}

	account := accountID(source, student)
	if account == "" {
		res.Outcome = OutcomeNoAccount
		return res
	}

	if _, ok := o.cache.Get(student.ID, month, source); ok {
		res.Outcome = OutcomeCached
		return res
	}

	switch source {
	case cache.SourceYouTube:
		o.fetchYouTube(ctx, month, student, account, &res)
	case cache.SourceX:
		o.fetchX(ctx, month, student, account, &res)
	}
	return res
}

func (o *Orchestrator) fetchYouTube(ctx context.Context, month string, student storage.Student, channelID string, res *StudentResult) {
	prevSubs := 0
	if snap, err := o.store.PriorSnapshot(student.ID, cache.SourceYouTube, month); err == nil {
		prevSubs = snap.Followers
	}

	eval, units, err := o.yt.Evaluate(ctx, channelID, month, prevSubs)
	res.UnitsUsed = units
	o.recordUsage(quota.ProviderYouTube, units)
	if err != nil {
		if errors.Is(err, youtube.ErrChannelNotFound) {
			res.Outcome = OutcomeNoAccount
			return
		}
		o.fail(res, student, err)
		return
	}

	if !eval.HasSignal() {
		// An all-zero record would poison the cache; leave a miss so the
		// next run retries.
		o.logger.Info("channel returned no signal, skipping cache write",
			"student_id", student.ID, "channel_id", channelID)
		res.Outcome = OutcomeSuccess
		return
	}

	if err := o.cache.Put(student.ID, student.Name, month, cache.SourceYouTube, eval); err != nil {
		o.logger.Warn("cache write failed", "student_id", student.ID, "error", err)
	}
	o.saveSnapshot(storage.MetricSnapshot{
		StudentID:   student.ID,
		Source:      cache.SourceYouTube,
		Month:       month,
		Followers:   eval.SubscriberCount,
		Engagement:  eval.TotalLikes + eval.TotalComments,
		Impressions: eval.TotalViews,
	})

	if eval.Complete() {
		res.Outcome = OutcomeSuccess
	} else {
		res.Outcome = OutcomePartial
	}
}

func (o *Orchestrator) fetchX(ctx context.Context, month string, student storage.Student, username string, res *StudentResult) {
	base := xapi.Baselines{}
	if snap, err := o.store.PriorSnapshot(student.ID, cache.SourceX, month); err == nil {
		base = xapi.Baselines{
			Followers:   snap.Followers,
			Engagement:  snap.Engagement,
			Impressions: snap.Impressions,
		}
	}

	eval, requests, err := o.x.Evaluate(ctx, username, month, base)
	res.UnitsUsed = requests
	o.recordUsage(quota.ProviderX, requests)
	if err != nil {
		if errors.Is(err, xapi.ErrAccountNotFound) {
			res.Outcome = OutcomeNoAccount
			return
		}
		o.fail(res, student, err)
		return
	}

	if eval.RateLimited {
		// Partial identity data is still worth keeping; the cache layer
		// refuses to serve it, so the next run re-fetches.
		if err := o.cache.Put(student.ID, student.Name, month, cache.SourceX, eval); err != nil {
			o.logger.Warn("partial cache write failed", "student_id", student.ID, "error", err)
		}
		res.Outcome = OutcomePartial
		return
	}

	if !eval.HasSignal() {
		o.logger.Info("account returned no signal, skipping cache write",
			"student_id", student.ID, "username", username)
		res.Outcome = OutcomeSuccess
		return
	}

	if err := o.cache.Put(student.ID, student.Name, month, cache.SourceX, eval); err != nil {
		o.logger.Warn("cache write failed", "student_id", student.ID, "error", err)
	}
	o.saveSnapshot(storage.MetricSnapshot{
		StudentID:   student.ID,
		Source:      cache.SourceX,
		Month:       month,
		Followers:   eval.FollowersCount,
		Engagement:  eval.TotalLikes + eval.TotalRetweets + eval.TotalReplies,
		Impressions: eval.TotalImpressions,
	})
	res.Outcome = OutcomeSuccess
}

func (o *Orchestrator) fail(res *StudentResult, student storage.Student, err error) {
	res.Outcome = OutcomeError
	res.Error = fmt.Sprintf("%s(%s): %v", student.Name, student.ID, err)
	o.logger.Error("student fetch failed",
		"student_id", student.ID, "student_name", student.Name, "error", err)
}

func (o *Orchestrator) recordUsage(provider quota.Provider, units int) {
	if units <= 0 {
		return
	}
	if _, err := o.tracker.RecordUsage(provider, units); err != nil {
		o.logger.Warn("recording quota usage failed", "provider", provider, "error", err)
	}
}

func (o *Orchestrator) saveSnapshot(snap storage.MetricSnapshot) {
	snap.ID = uuid.NewString()
	snap.CreatedAt = o.now()
	if err := o.store.SaveMetricSnapshot(snap); err != nil {
		o.logger.Warn("saving metric snapshot failed",
			"student_id", snap.StudentID, "source", snap.Source, "error", err)
	}
}

// maybeRefreshCredentials renews upstream credentials when the refresh
// interval has elapsed. A run that outlives a short-lived token would
// otherwise start failing halfway through.
func (o *Orchestrator) maybeRefreshCredentials(ctx context.Context) error {
	if o.creds == nil {
		return nil
	}
	now := o.now()
	if !o.lastRefresh.IsZero() && now.Sub(o.lastRefresh) < credentialRefreshInterval {
		return nil
	}
	o.lastRefresh = now
	return o.creds.Refresh(ctx)
}

// RunAuto processes the whole eligible population in sub-batches of
// DefaultBatchSize, sleeping the cooldown between them. The blocking
// sleep is intentional: the run executes under a batch cron with no
// external rescheduler, so holding the process is the simplest way to
// respect the provider's rate window. Cancelling ctx aborts the sleep
// and returns what has been processed so far.
func (o *Orchestrator) RunAuto(ctx context.Context, source, month string) (*Summary, error) {
	if source != cache.SourceYouTube && source != cache.SourceX {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	population, err := o.population(source)
	if err != nil {
		return nil, err
	}

	combined := &Summary{
		Source:        source,
		Month:         month,
		BatchSize:     DefaultBatchSize,
		TotalStudents: len(population),
		Errors:        []string{},
		Students:      []StudentResult{},
	}

	for index := 0; index*DefaultBatchSize < len(population) || index == 0; index++ {
		if index > 0 {
			o.logger.Info("cooling down before next sub-batch",
				"source", source, "next_index", index, "cooldown", o.cooldown)
			if err := o.sleep(ctx, o.cooldown); err != nil {
				o.logger.Warn("auto run cancelled during cooldown", "completed_batches", index)
				return combined, err
			}
		}
		sub, err := o.runWindow(ctx, source, month, population, index, DefaultBatchSize)
		if err != nil {
			return combined, err
		}
		combined.merge(sub)
		if !sub.HasNextBatch {
			break
		}
	}
	return combined, nil
}

func (s *Summary) merge(sub *Summary) {
	s.ProcessedCount += sub.ProcessedCount
	s.SuccessCount += sub.SuccessCount
	s.PartialCount += sub.PartialCount
	s.SkippedCount += sub.SkippedCount
	s.ErrorCount += sub.ErrorCount
	s.UnitsUsed += sub.UnitsUsed
	s.Errors = append(s.Errors, sub.Errors...)
	s.Students = append(s.Students, sub.Students...)
	s.BatchIndex = sub.BatchIndex
	s.HasNextBatch = sub.HasNextBatch
	s.NextBatchIndex = sub.NextBatchIndex
}
