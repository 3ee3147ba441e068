// Package youtubeapi lists live broadcasts through the YouTube Data API.
// The platform authenticates with an API key, which stands in for the bearer
// token everywhere else.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gojson "github.com/goccy/go-json"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

// MaxPageSize is the largest maxResults search.list accepts.
const MaxPageSize = 50

// Client lists live videos. It implements platform.Client.
type Client struct {
	PageSize          int64
	RegionCode        string
	RelevanceLanguage string
	// Endpoint overrides the API root (tests).
	Endpoint   string
	HTTPClient *http.Client
}

// New returns a Client with default paging.
func New() *Client {
	return &Client{PageSize: MaxPageSize}
}

var _ platform.Client = (*Client)(nil)

// Name implements platform.Client.
func (c *Client) Name() stream.Platform { return stream.YouTube }

// keyTransport appends the API key to every request.
type keyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	q := r.URL.Query()
	q.Set("key", t.key)
	r.URL.RawQuery = q.Encode()
	return t.base.RoundTrip(r)
}

func (c *Client) service(ctx context.Context, key string) (*yt.Service, error) {
	base := http.DefaultTransport
	timeout := 30 * time.Second
	if c.HTTPClient != nil {
		if c.HTTPClient.Transport != nil {
			base = c.HTTPClient.Transport
		}
		timeout = c.HTTPClient.Timeout
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(&http.Client{Transport: &keyTransport{key: key, base: base}, Timeout: timeout}),
	}
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}
	return yt.NewService(ctx, opts...)
}

// listing is the joined search/video/channel view handed to Normalize.
type listing struct {
	VideoID           string `json:"video_id"`
	ChannelID         string `json:"channel_id"`
	ChannelTitle      string `json:"channel_title"`
	CustomURL         string `json:"custom_url,omitempty"`
	ChannelDesc       string `json:"channel_description,omitempty"`
	ProfileImageURL   string `json:"profile_image_url,omitempty"`
	SubscriberCount   int64  `json:"subscriber_count,omitempty"`
	Title             string `json:"title"`
	CategoryID        string `json:"category_id,omitempty"`
	Language          string `json:"language,omitempty"`
	ThumbnailURL      string `json:"thumbnail_url,omitempty"`
	ConcurrentViewers int64  `json:"concurrent_viewers,omitempty"`
	ActualStartTime   string `json:"actual_start_time,omitempty"`
}

// FetchLiveStreams implements platform.Client. token is the API key.
func (c *Client) FetchLiveStreams(ctx context.Context, token, cursor string) (platform.Page, error) {
	if token == "" {
		return platform.Page{}, &platform.AuthError{Platform: stream.YouTube, Err: errors.New("missing api key")}
	}
	svc, err := c.service(ctx, token)
	if err != nil {
		return platform.Page{}, &platform.PermanentError{Platform: stream.YouTube, Err: err}
	}
	size := c.PageSize
	if size <= 0 || size > MaxPageSize {
		size = MaxPageSize
	}
	call := svc.Search.List([]string{"snippet"}).
		Type("video").
		EventType("live").
		Order("viewCount").
		MaxResults(size).
		Context(ctx)
	if cursor != "" {
		call = call.PageToken(cursor)
	}
	if c.RegionCode != "" {
		call = call.RegionCode(c.RegionCode)
	}
	if c.RelevanceLanguage != "" {
		call = call.RelevanceLanguage(c.RelevanceLanguage)
	}
	res, err := call.Do()
	if err != nil {
		return platform.Page{}, classify(err)
	}

	items := make([]*listing, 0, len(res.Items))
	byVideo := map[string]*listing{}
	byChannel := map[string][]*listing{}
	for _, it := range res.Items {
		if it.Id == nil || it.Snippet == nil {
			continue
		}
		l := &listing{
			VideoID:      it.Id.VideoId,
			ChannelID:    it.Snippet.ChannelId,
			ChannelTitle: it.Snippet.ChannelTitle,
			Title:        it.Snippet.Title,
			ThumbnailURL: bestThumbnail(it.Snippet.Thumbnails),
		}
		items = append(items, l)
		if l.VideoID != "" {
			byVideo[l.VideoID] = l
		}
		if l.ChannelID != "" {
			byChannel[l.ChannelID] = append(byChannel[l.ChannelID], l)
		}
	}
	c.joinVideos(ctx, svc, byVideo)
	c.joinChannels(ctx, svc, byChannel)

	page := platform.Page{NextCursor: res.NextPageToken, Listings: make([]json.RawMessage, 0, len(items))}
	for _, l := range items {
		raw, err := gojson.Marshal(l)
		if err != nil {
			return platform.Page{}, &platform.PermanentError{Platform: stream.YouTube, Err: err}
		}
		page.Listings = append(page.Listings, raw)
	}
	return page, nil
}

// joinVideos fills live details. Failures are logged and the search data kept.
func (c *Client) joinVideos(ctx context.Context, svc *yt.Service, byVideo map[string]*listing) {
	if len(byVideo) == 0 {
		return
	}
	ids := make([]string, 0, len(byVideo))
	for id := range byVideo {
		ids = append(ids, id)
	}
	res, err := svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		slog.Warn("youtube videos lookup failed", slog.String("component", "youtubeapi"), slog.Any("err", classify(err)))
		return
	}
	for _, v := range res.Items {
		l, ok := byVideo[v.Id]
		if !ok {
			continue
		}
		if v.Snippet != nil {
			l.CategoryID = v.Snippet.CategoryId
			l.Language = v.Snippet.DefaultAudioLanguage
			if l.Language == "" {
				l.Language = v.Snippet.DefaultLanguage
			}
		}
		if d := v.LiveStreamingDetails; d != nil {
			l.ConcurrentViewers = int64(d.ConcurrentViewers)
			l.ActualStartTime = d.ActualStartTime
		}
	}
}

// joinChannels fills subscriber counts and channel profile data.
func (c *Client) joinChannels(ctx context.Context, svc *yt.Service, byChannel map[string][]*listing) {
	if len(byChannel) == 0 {
		return
	}
	ids := make([]string, 0, len(byChannel))
	for id := range byChannel {
		ids = append(ids, id)
	}
	res, err := svc.Channels.List([]string{"snippet", "statistics"}).Id(ids...).Context(ctx).Do()
	if err != nil {
		slog.Warn("youtube channels lookup failed", slog.String("component", "youtubeapi"), slog.Any("err", classify(err)))
		return
	}
	for _, ch := range res.Items {
		for _, l := range byChannel[ch.Id] {
			if ch.Snippet != nil {
				l.CustomURL = ch.Snippet.CustomUrl
				l.ChannelDesc = ch.Snippet.Description
				l.ProfileImageURL = bestThumbnail(ch.Snippet.Thumbnails)
				if ch.Snippet.Title != "" {
					l.ChannelTitle = ch.Snippet.Title
				}
			}
			if ch.Statistics != nil && !ch.Statistics.HiddenSubscriberCount {
				l.SubscriberCount = int64(ch.Statistics.SubscriberCount)
			}
		}
	}
}

func bestThumbnail(td *yt.ThumbnailDetails) string {
	if td == nil {
		return ""
	}
	for _, t := range []*yt.Thumbnail{td.Maxres, td.High, td.Medium, td.Default} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}

// classify maps Data API failures onto the platform taxonomy. Quota errors
// arrive as 403 with a quota reason and are treated as throttling.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &platform.TransientError{Platform: stream.YouTube, Err: err}
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded", "dailyLimitExceeded":
			return &platform.RateLimitError{Platform: stream.YouTube, RetryAfter: platform.RetryAfterFromHeader(gerr.Header, time.Now()), Err: err}
		case "keyInvalid", "keyExpired":
			return &platform.AuthError{Platform: stream.YouTube, Err: err}
		}
	}
	switch {
	case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
		return &platform.AuthError{Platform: stream.YouTube, Err: err}
	case gerr.Code == http.StatusTooManyRequests:
		return &platform.RateLimitError{Platform: stream.YouTube, RetryAfter: platform.RetryAfterFromHeader(gerr.Header, time.Now()), Err: err}
	case gerr.Code >= 500:
		return &platform.TransientError{Platform: stream.YouTube, Err: err}
	default:
		return &platform.PermanentError{Platform: stream.YouTube, StatusCode: gerr.Code, Err: err}
	}
}
