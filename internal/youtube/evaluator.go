package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
)

// maxRecentVideos bounds the search window (and its quota cost) per student.
const maxRecentVideos = 50

// Goal thresholds for the streaming rubric.
const (
	weeklyStreamGoal    = 4  // streams per week
	minimumDurationGoal = 90 // minutes per stream
)

// Evaluation is the derived monthly record for one channel.
type Evaluation struct {
	SubscriberCount      int     `json:"subscriberCount"`
	SubscriberGrowthRate float64 `json:"subscriberGrowthRate"`
	TotalViews           int64   `json:"totalViews"`

	VideosInMonth         int     `json:"videosInMonth"`
	WeeklyStreamCount     float64 `json:"weeklyStreamCount"`
	MeetsWeeklyStreamGoal bool    `json:"meetsWeekly4StreamsGoal"`

	AverageStreamDuration    float64 `json:"averageStreamDuration"` // minutes
	MeetsMinimumDurationGoal bool    `json:"meetsMinimum90MinutesGoal"`

	TotalLikes     int64   `json:"totalLikes"`
	TotalComments  int64   `json:"totalComments"`
	EngagementRate float64 `json:"engagementRate"`

	TitleQuality     grades.QualityTier `json:"titleQuality"`
	ThumbnailQuality grades.QualityTier `json:"thumbnailQuality"`

	OverallGrade grades.Grade `json:"overallGrade"`

	RecentVideos []Video `json:"recentVideos,omitempty"`
}

// Complete reports whether the record carries enough signal to be served
// from cache. A month with no videos, no subscribers, or no views is
// re-fetched on next access.
func (e *Evaluation) Complete() bool {
	return e.VideosInMonth > 0 && e.SubscriberCount > 0 && e.TotalViews > 0
}

// HasSignal reports whether the record is worth persisting at all.
func (e *Evaluation) HasSignal() bool {
	return e.VideosInMonth > 0 || e.SubscriberCount > 0
}

// Evaluator turns raw channel data into a monthly Evaluation.
type Evaluator struct {
	client *Client
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator around the given API client.
func NewEvaluator(client *Client) *Evaluator {
	return &Evaluator{client: client, logger: slog.Default()}
}

// Evaluate fetches and scores one channel for targetMonth (YYYY-MM).
// prevSubscribers is last month's subscriber count, 0 when unknown.
// The returned units are the quota cost of the calls actually made.
func (ev *Evaluator) Evaluate(ctx context.Context, channelID, targetMonth string, prevSubscribers int) (*Evaluation, int, error) {
	units := 0

	stats, err := ev.client.FetchChannelStats(ctx, channelID)
	units += channelListCost
	if err != nil {
		return nil, units, fmt.Errorf("fetching channel stats for %s: %w", channelID, err)
	}

	videos, err := ev.client.FetchRecentVideos(ctx, channelID, maxRecentVideos)
	units += searchListCost
	if err != nil {
		// A blocked video fetch still leaves the subscriber signal usable;
		// the zero-video record is treated as incomplete by the cache.
		ev.logger.Warn("video fetch failed, evaluating channel stats only",
			"channel_id", channelID, "error", err)
		videos = nil
	}
	units += len(videos) * videoDetailCost

	monthVideos := filterByMonth(videos, targetMonth)
	ev.logger.Debug("filtered videos to target month",
		"channel_id", channelID, "month", targetMonth, "count", len(monthVideos))

	e := &Evaluation{
		SubscriberCount: stats.SubscriberCount,
		VideosInMonth:   len(monthVideos),
		RecentVideos:    truncateVideos(monthVideos, 10),
	}

	e.WeeklyStreamCount = float64(len(monthVideos)) / 4 // month as 4 weeks
	e.MeetsWeeklyStreamGoal = e.WeeklyStreamCount >= weeklyStreamGoal

	var totalMinutes float64
	for _, v := range monthVideos {
		totalMinutes += parseISODuration(v.Duration)
		e.TotalLikes += v.LikeCount
		e.TotalComments += v.CommentCount
		e.TotalViews += v.ViewCount
	}
	if len(monthVideos) > 0 {
		e.AverageStreamDuration = totalMinutes / float64(len(monthVideos))
	}
	e.MeetsMinimumDurationGoal = e.AverageStreamDuration >= minimumDurationGoal

	if e.TotalViews > 0 {
		e.EngagementRate = float64(e.TotalLikes+e.TotalComments) / float64(e.TotalViews) * 100
	}
	e.SubscriberGrowthRate = growthRate(float64(stats.SubscriberCount), float64(prevSubscribers))

	e.TitleQuality = titleQuality(monthVideos)
	e.ThumbnailQuality = thumbnailQuality(monthVideos)

	e.OverallGrade = grades.YouTubeGrade(grades.YouTubeMetrics{
		MeetsWeeklyStreamGoal:    e.MeetsWeeklyStreamGoal,
		WeeklyStreamCount:        e.WeeklyStreamCount,
		MeetsMinimumDurationGoal: e.MeetsMinimumDurationGoal,
		AverageStreamDuration:    e.AverageStreamDuration,
		SubscriberGrowthRate:     e.SubscriberGrowthRate,
		EngagementRate:           e.EngagementRate,
		TitleQuality:             e.TitleQuality,
		ThumbnailQuality:         e.ThumbnailQuality,
	})

	return e, units, nil
}

// growthRate computes (current-previous)/previous*100, 0 without a baseline.
func growthRate(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// filterByMonth keeps videos published in the YYYY-MM target month.
func filterByMonth(videos []Video, targetMonth string) []Video {
	var out []Video
	for _, v := range videos {
		if strings.HasPrefix(v.PublishedAt, targetMonth) {
			out = append(out, v)
		}
	}
	return out
}

func truncateVideos(videos []Video, n int) []Video {
	if len(videos) <= n {
		return videos
	}
	return videos[:n]
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration converts an ISO 8601 duration like PT1H30M15S to
// minutes. Malformed input counts as 0.
func parseISODuration(d string) float64 {
	m := isoDurationRe.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	seconds, _ := strconv.Atoi(zeroIfEmpty(m[3]))
	return float64(hours)*60 + float64(minutes) + float64(seconds)/60
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// titleQuality rates title writing by average length: 20-60 runes reads as
// deliberate, shorter ones as filler.
func titleQuality(videos []Video) grades.QualityTier {
	if len(videos) == 0 {
		return grades.QualityPoor
	}
	var total int
	for _, v := range videos {
		total += len([]rune(v.Title))
	}
	avg := float64(total) / float64(len(videos))
	switch {
	case avg >= 20 && avg <= 60:
		return grades.QualityGood
	case avg >= 10:
		return grades.QualityAverage
	}
	return grades.QualityPoor
}

// thumbnailQuality checks whether every video carries a high-res thumbnail.
func thumbnailQuality(videos []Video) grades.QualityTier {
	if len(videos) == 0 {
		return grades.QualityPoor
	}
	for _, v := range videos {
		if v.ThumbnailURL == "" || !strings.Contains(v.ThumbnailURL, "hq") {
			return grades.QualityAverage
		}
	}
	return grades.QualityGood
}
