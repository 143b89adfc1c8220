package xapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kyo10310415/vtuber-school-evaluation-sub000/internal/grades"
)

// maxTweetsPerPage is the single-page window fetched per student. One page
// keeps the per-student Posts cost at exactly one request.
const maxTweetsPerPage = 100

// Goal thresholds for the posting rubric.
const (
	dailyTweetGoal     = 2 // posts per day
	weeklyPlanningGoal = 2 // planning posts per week
)

// planningKeywords mark a tweet as a planning/announcement post.
var planningKeywords = []string{
	"企画", "イベント", "コラボ", "配信予定", "告知",
	"お知らせ", "参加", "募集", "プレゼント", "キャンペーン",
}

// Baselines are last month's headline numbers used for growth rates.
// Zero values mean "no baseline" and produce a 0% growth rate.
type Baselines struct {
	Followers   int
	Engagement  int64
	Impressions int64
}

// PartialData is the identity-level signal preserved when the tweet lookup
// was rate limited after the user lookup succeeded.
type PartialData struct {
	FollowersCount int `json:"followersCount"`
	FollowingCount int `json:"followingCount"`
}

// Evaluation is the derived monthly record for one account.
type Evaluation struct {
	FollowersCount     int     `json:"followersCount"`
	FollowingCount     int     `json:"followingCount"`
	FollowerGrowthRate float64 `json:"followerGrowthRate"`

	TweetsInMonth       int     `json:"tweetsInMonth"`
	DailyTweetCount     float64 `json:"dailyTweetCount"`
	MeetsDailyTweetGoal bool    `json:"meetsDailyTweetGoal"`

	WeeklyPlanningTweets    float64 `json:"weeklyPlanningTweets"`
	MeetsWeeklyPlanningGoal bool    `json:"meetsWeeklyPlanningGoal"`

	TotalLikes       int64   `json:"totalLikes"`
	TotalRetweets    int64   `json:"totalRetweets"`
	TotalReplies     int64   `json:"totalReplies"`
	TotalImpressions int64   `json:"totalImpressions"`
	EngagementRate   float64 `json:"engagementRate"`

	EngagementGrowthRate float64 `json:"engagementGrowthRate"`
	ImpressionGrowthRate float64 `json:"impressionGrowthRate"`

	OverallGrade grades.Grade `json:"overallGrade"`

	RateLimited bool         `json:"rateLimited,omitempty"`
	PartialData *PartialData `json:"partialData,omitempty"`

	RecentTweets []Tweet `json:"recentTweets,omitempty"`
}

// Complete reports whether the record can be served from cache. A
// rate-limited record is always re-fetched on next access.
func (e *Evaluation) Complete() bool {
	return !e.RateLimited
}

// HasSignal reports whether the record is worth persisting at all.
func (e *Evaluation) HasSignal() bool {
	return e.TweetsInMonth > 0 || e.FollowersCount > 0
}

// Evaluator turns raw account data into a monthly Evaluation.
type Evaluator struct {
	client *Client
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator around the given API client.
func NewEvaluator(client *Client) *Evaluator {
	return &Evaluator{client: client, logger: slog.Default()}
}

// Evaluate fetches and scores one account for targetMonth (YYYY-MM).
// The returned request count is the Posts-quota cost of the calls made
// (the user lookup is budgeted separately by the provider).
//
// A 429 on the tweet lookup degrades to a rate-limited partial record so
// the identity signal is not lost; a 429 on the user lookup itself is a
// hard error because there is nothing to preserve.
func (ev *Evaluator) Evaluate(ctx context.Context, username, targetMonth string, base Baselines) (*Evaluation, int, error) {
	user, err := ev.client.FetchUserByUsername(ctx, username)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching user %s: %w", username, err)
	}

	requests := 0
	tweets, err := ev.client.FetchRecentTweets(ctx, user.UserID, maxTweetsPerPage)
	requests++
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			ev.logger.Warn("tweet lookup rate limited, preserving identity metrics",
				"username", username, "user_id", user.UserID)
			return &Evaluation{
				FollowersCount: user.FollowersCount,
				FollowingCount: user.FollowingCount,
				OverallGrade:   grades.GradeD,
				RateLimited:    true,
				PartialData: &PartialData{
					FollowersCount: user.FollowersCount,
					FollowingCount: user.FollowingCount,
				},
			}, requests, nil
		}
		return nil, requests, fmt.Errorf("fetching tweets for %s: %w", username, err)
	}

	monthTweets := filterByMonth(tweets, targetMonth)
	ev.logger.Debug("filtered tweets to target month",
		"username", username, "month", targetMonth, "count", len(monthTweets))

	e := &Evaluation{
		FollowersCount: user.FollowersCount,
		FollowingCount: user.FollowingCount,
		TweetsInMonth:  len(monthTweets),
		RecentTweets:   truncateTweets(monthTweets, 10),
	}

	days := daysInMonth(targetMonth)
	e.DailyTweetCount = float64(len(monthTweets)) / float64(days)
	e.MeetsDailyTweetGoal = e.DailyTweetCount >= dailyTweetGoal

	var planning int
	for _, t := range monthTweets {
		if isPlanningTweet(t) {
			planning++
		}
		e.TotalLikes += t.LikeCount
		e.TotalRetweets += t.RetweetCount
		e.TotalReplies += t.ReplyCount
		e.TotalImpressions += t.ImpressionCnt
	}
	e.WeeklyPlanningTweets = float64(planning) / 4 // month as 4 weeks
	e.MeetsWeeklyPlanningGoal = e.WeeklyPlanningTweets >= weeklyPlanningGoal

	engagement := e.TotalLikes + e.TotalRetweets + e.TotalReplies
	if e.TotalImpressions > 0 {
		e.EngagementRate = float64(engagement) / float64(e.TotalImpressions) * 100
	}

	e.FollowerGrowthRate = growthRate(float64(user.FollowersCount), float64(base.Followers))
	e.EngagementGrowthRate = growthRate(float64(engagement), float64(base.Engagement))
	e.ImpressionGrowthRate = growthRate(float64(e.TotalImpressions), float64(base.Impressions))

	e.OverallGrade = grades.XGrade(grades.XMetrics{
		MeetsDailyTweetGoal:     e.MeetsDailyTweetGoal,
		DailyTweetCount:         e.DailyTweetCount,
		MeetsWeeklyPlanningGoal: e.MeetsWeeklyPlanningGoal,
		WeeklyPlanningTweets:    e.WeeklyPlanningTweets,
		FollowerGrowthRate:      e.FollowerGrowthRate,
		EngagementRate:          e.EngagementRate,
		ImpressionGrowthRate:    e.ImpressionGrowthRate,
	})

	return e, requests, nil
}

// growthRate computes (current-previous)/previous*100, 0 without a baseline.
func growthRate(current, previous float64) float64 {
	if previous <= 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// filterByMonth keeps tweets posted in the YYYY-MM target month.
func filterByMonth(tweets []Tweet, targetMonth string) []Tweet {
	var out []Tweet
	for _, t := range tweets {
		if strings.HasPrefix(t.CreatedAt, targetMonth) {
			out = append(out, t)
		}
	}
	return out
}

func truncateTweets(tweets []Tweet, n int) []Tweet {
	if len(tweets) <= n {
		return tweets
	}
	return tweets[:n]
}

func isPlanningTweet(t Tweet) bool {
	for _, kw := range planningKeywords {
		if strings.Contains(t.Text, kw) {
			return true
		}
	}
	return false
}

// daysInMonth returns the day count of a YYYY-MM month, 30 on parse failure.
func daysInMonth(month string) int {
	parts := strings.SplitN(month, "-", 2)
	if len(parts) != 2 {
		return 30
	}
	year, err1 := strconv.Atoi(parts[0])
	mon, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || mon < 1 || mon > 12 {
		return 30
	}
	first := time.Date(year, time.Month(mon), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}
