// Package xapi fetches account and post statistics from the X API v2 and
// evaluates an account's monthly activity against the school's posting
// goals. The Basic plan's monthly request budget is tight, so the tweet
// lookup is capped at a single page per student.
package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.x.com/2"

// ErrRateLimited is returned on HTTP 429 from the X API.
var ErrRateLimited = errors.New("x api rate limited")

// ErrAccountNotFound is returned when the username resolves to nothing.
var ErrAccountNotFound = errors.New("x account not found")

// ErrMissingBearerToken is returned when the client has no credentials.
var ErrMissingBearerToken = errors.New("x bearer token not configured")

// UserMetrics are the public counters of an account.
type UserMetrics struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
	TweetCount     int    `json:"tweetCount"`
}

// Tweet is one post with its public metrics.
type Tweet struct {
	TweetID       string `json:"tweetId"`
	Text          string `json:"text"`
	CreatedAt     string `json:"createdAt"` // RFC 3339
	RetweetCount  int64  `json:"retweetCount"`
	ReplyCount    int64  `json:"replyCount"`
	LikeCount     int64  `json:"likeCount"`
	QuoteCount    int64  `json:"quoteCount"`
	ImpressionCnt int64  `json:"impressionCount"`
}

// Client calls the X API v2 with bearer-token auth.
type Client struct {
	bearerToken string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a Client using the given bearer token.
func NewClient(bearerToken string) *Client {
	return &Client{
		bearerToken: bearerToken,
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (tests).
func NewClientWithBaseURL(bearerToken, baseURL string) *Client {
	c := NewClient(bearerToken)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.bearerToken == "" {
		return ErrMissingBearerToken
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("x api: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

type userResponse struct {
	Data *struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PublicMetrics struct {
			FollowersCount int `json:"followers_count"`
			FollowingCount int `json:"following_count"`
			TweetCount     int `json:"tweet_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// FetchUserByUsername resolves an account by handle. The leading "@" is
// stripped if present. This lookup does not count against the Posts quota.
func (c *Client) FetchUserByUsername(ctx context.Context, username string) (*UserMetrics, error) {
	handle := strings.TrimPrefix(username, "@")

	params := url.Values{}
	params.Set("user.fields", "public_metrics")

	var data userResponse
	if err := c.get(ctx, "/users/by/username/"+url.PathEscape(handle), params, &data); err != nil {
		return nil, err
	}
	if data.Data == nil {
		return nil, ErrAccountNotFound
	}

	return &UserMetrics{
		UserID:         data.Data.ID,
		Username:       data.Data.Username,
		FollowersCount: data.Data.PublicMetrics.FollowersCount,
		FollowingCount: data.Data.PublicMetrics.FollowingCount,
		TweetCount:     data.Data.PublicMetrics.TweetCount,
	}, nil
}

type tweetsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Text          string `json:"text"`
		CreatedAt     string `json:"created_at"`
		PublicMetrics struct {
			RetweetCount    int64 `json:"retweet_count"`
			ReplyCount      int64 `json:"reply_count"`
			LikeCount       int64 `json:"like_count"`
			QuoteCount      int64 `json:"quote_count"`
			ImpressionCount int64 `json:"impression_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// FetchRecentTweets returns one page of the user's newest tweets. Costs one
// Posts request.
func (c *Client) FetchRecentTweets(ctx context.Context, userID string, maxResults int) ([]Tweet, error) {
	params := url.Values{}
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("tweet.fields", "created_at,public_metrics")

	var data tweetsResponse
	if err := c.get(ctx, "/users/"+url.PathEscape(userID)+"/tweets", params, &data); err != nil {
		return nil, err
	}

	tweets := make([]Tweet, 0, len(data.Data))
	for _, t := range data.Data {
		tweets = append(tweets, Tweet{
			TweetID:       t.ID,
			Text:          t.Text,
			CreatedAt:     t.CreatedAt,
			RetweetCount:  t.PublicMetrics.RetweetCount,
			ReplyCount:    t.PublicMetrics.ReplyCount,
			LikeCount:     t.PublicMetrics.LikeCount,
			QuoteCount:    t.PublicMetrics.QuoteCount,
			ImpressionCnt: t.PublicMetrics.ImpressionCount,
		})
	}
	return tweets, nil
}
