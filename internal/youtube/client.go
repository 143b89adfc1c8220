// Package youtube fetches channel and video statistics from the YouTube
// Data API v3 and evaluates a channel's monthly activity against the
// school's streaming goals.
package youtube

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

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Quota unit costs per the Data API v3 pricing table.
const (
	channelListCost = 1
	searchListCost  = 100
	videoDetailCost = 1 // per video returned
)

// ErrChannelNotFound is returned when the channel id resolves to nothing.
var ErrChannelNotFound = errors.New("channel not found")

// ErrMissingAPIKey is returned when the client was built without credentials.
var ErrMissingAPIKey = errors.New("youtube api key not configured")

// StatusError is a non-2xx response from the Data API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("youtube api: unexpected status %d: %s", e.Status, e.Body)
}

// IsRateLimited reports whether err is a quota/rate-limit response. The
// Data API signals exhaustion with 403 quotaExceeded as well as 429.
func IsRateLimited(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusTooManyRequests || se.Status == http.StatusForbidden
}

// ChannelStats are the headline counters of a channel.
type ChannelStats struct {
	ChannelID       string `json:"channelId"`
	SubscriberCount int    `json:"subscriberCount"`
	ViewCount       int64  `json:"viewCount"`
	VideoCount      int    `json:"videoCount"`
}

// Video is one uploaded video with its statistics.
type Video struct {
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	PublishedAt  string `json:"publishedAt"` // RFC 3339
	Duration     string `json:"duration"`    // ISO 8601, e.g. PT1H30M15S
	ViewCount    int64  `json:"viewCount"`
	LikeCount    int64  `json:"likeCount"`
	CommentCount int64  `json:"commentCount"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Client calls the YouTube Data API v3.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client using the given API key. Requests are paced to
// stay well inside the per-second request limit.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (tests).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	params.Set("key", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// statistics strings arrive quoted in the API responses.
type channelListResponse struct {
	Items []struct {
		Statistics struct {
			SubscriberCount string `json:"subscriberCount"`
			ViewCount       string `json:"viewCount"`
			VideoCount      string `json:"videoCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchChannelStats resolves a channel's statistics. Costs 1 quota unit.
func (c *Client) FetchChannelStats(ctx context.Context, channelID string) (*ChannelStats, error) {
	params := url.Values{}
	params.Set("part", "statistics")
	params.Set("id", channelID)

	var data channelListResponse
	if err := c.get(ctx, "/channels", params, &data); err != nil {
		return nil, err
	}
	if len(data.Items) == 0 {
		return nil, ErrChannelNotFound
	}

	stats := data.Items[0].Statistics
	return &ChannelStats{
		ChannelID:       channelID,
		SubscriberCount: atoiLoose(stats.SubscriberCount),
		ViewCount:       int64(atoiLoose(stats.ViewCount)),
		VideoCount:      atoiLoose(stats.VideoCount),
	}, nil
}

type searchListResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Thumbnails  struct {
				High    struct{ URL string } `json:"high"`
				Default struct{ URL string } `json:"default"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// FetchRecentVideos returns up to maxResults of the channel's newest videos
// with full statistics. Costs 100 units for the search plus 1 per video.
func (c *Client) FetchRecentVideos(ctx context.Context, channelID string, maxResults int) ([]Video, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	params.Set("channelId", channelID)
	params.Set("maxResults", strconv.Itoa(maxResults))
	params.Set("order", "date")
	params.Set("type", "video")

	var search searchListResponse
	if err := c.get(ctx, "/search", params, &search); err != nil {
		return nil, err
	}
	if len(search.Items) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(search.Items))
	for _, item := range search.Items {
		ids = append(ids, item.ID.VideoID)
	}

	detailParams := url.Values{}
	detailParams.Set("part", "snippet,contentDetails,statistics")
	detailParams.Set("id", strings.Join(ids, ","))

	var details videoListResponse
	if err := c.get(ctx, "/videos", detailParams, &details); err != nil {
		return nil, err
	}

	videos := make([]Video, 0, len(details.Items))
	for _, item := range details.Items {
		thumb := item.Snippet.Thumbnails.High.URL
		if thumb == "" {
			thumb = item.Snippet.Thumbnails.Default.URL
		}
		videos = append(videos, Video{
			VideoID:      item.ID,
			Title:        item.Snippet.Title,
			PublishedAt:  item.Snippet.PublishedAt,
			Duration:     item.ContentDetails.Duration,
			ViewCount:    int64(atoiLoose(item.Statistics.ViewCount)),
			LikeCount:    int64(atoiLoose(item.Statistics.LikeCount)),
			CommentCount: int64(atoiLoose(item.Statistics.CommentCount)),
			ThumbnailURL: thumb,
		})
	}
	return videos, nil
}

// atoiLoose parses the API's quoted counters; missing or malformed values
// count as 0, never an error.
func atoiLoose(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
