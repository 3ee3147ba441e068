// Package kickapi lists live streams from the Kick public API.
package kickapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/onnwee/livetally/oauth"
	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

const (
	// TokenURL is the Kick OAuth2 token endpoint.
	TokenURL = "https://id.kick.com/oauth/token"
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.kick.com/public/v1"
	// MaxPageSize is the largest limit the livestreams endpoint accepts.
	MaxPageSize = 100
	// channelBatch is the most slugs one /channels request takes.
	channelBatch = 50
)

// TokenFetcher returns the client-credentials exchange for Kick app tokens.
func TokenFetcher(hc *http.Client) oauth.ClientCredentials {
	return oauth.ClientCredentials{Platform: stream.Kick, TokenURL: TokenURL, HTTPClient: hc}
}

// Client lists live streams from Kick. It implements platform.Client.
// The livestreams endpoint has no cursor, so every fetch is a single final page.
type Client struct {
	PageSize int
	// Language restricts listings to one language code when set.
	Language string
	// FollowerCounts fills followers_count from the channels endpoint; the
	// livestreams listing does not carry it.
	FollowerCounts bool
	BaseURL        string
	HTTPClient     *http.Client
}

// New returns a Client with default paging and no language filter.
func New() *Client {
	return &Client{PageSize: MaxPageSize, BaseURL: DefaultBaseURL}
}

var _ platform.Client = (*Client)(nil)

// Name implements platform.Client.
func (c *Client) Name() stream.Platform { return stream.Kick }

// FetchLiveStreams implements platform.Client. cursor is ignored.
func (c *Client) FetchLiveStreams(ctx context.Context, token, _ string) (platform.Page, error) {
	limit := c.PageSize
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "viewer_count")
	if c.Language != "" {
		q.Set("language", c.Language)
	}
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)

	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := platform.GetJSON(ctx, c.HTTPClient, stream.Kick, base+"/livestreams?"+q.Encode(), h, &body); err != nil {
		return platform.Page{}, err
	}
	if c.FollowerCounts && len(body.Data) > 0 {
		c.followers(ctx, base, h, body.Data)
	}
	return platform.Page{Listings: body.Data}, nil
}

// channelInfo is one entry of /channels. Follower counts have shipped under
// several names.
type channelInfo struct {
	Slug           string `json:"slug"`
	FollowersCount int64  `json:"followers_count"`
	FollowerCount  int64  `json:"follower_count"`
	FollowersCamel int64  `json:"followersCount"`
}

func (ci channelInfo) followers() int64 {
	for _, n := range []int64{ci.FollowersCount, ci.FollowerCount, ci.FollowersCamel} {
		if n > 0 {
			return n
		}
	}
	return 0
}

// followers merges follower counts from /channels into listings that lack
// one. Failed batches are logged and the listings are kept as they are.
func (c *Client) followers(ctx context.Context, base string, h http.Header, listings []json.RawMessage) {
	slugs := make([]string, len(listings))
	var pending []string
	for i, raw := range listings {
		var ref struct {
			Slug           string `json:"slug"`
			FollowersCount int64  `json:"followers_count"`
		}
		if err := gojson.Unmarshal(raw, &ref); err != nil || ref.Slug == "" || ref.FollowersCount > 0 {
			continue
		}
		slugs[i] = ref.Slug
		pending = append(pending, ref.Slug)
	}
	counts := make(map[string]int64, len(pending))
	for start := 0; start < len(pending); start += channelBatch {
		end := min(start+channelBatch, len(pending))
		q := url.Values{}
		for _, slug := range pending[start:end] {
			q.Add("slug", slug)
		}
		var body struct {
			Data []channelInfo `json:"data"`
		}
		if err := platform.GetJSON(ctx, c.HTTPClient, stream.Kick, base+"/channels?"+q.Encode(), h, &body); err != nil {
			slog.Warn("kick channel lookup failed", slog.String("component", "kickapi"), slog.Int("slugs", end-start), slog.Any("err", err))
			continue
		}
		for _, ch := range body.Data {
			if n := ch.followers(); n > 0 {
				counts[ch.Slug] = n
			}
		}
	}
	for i, slug := range slugs {
		if n, ok := counts[slug]; ok && slug != "" {
			listings[i] = platform.MergeFields(listings[i], map[string]any{"followers_count": n})
		}
	}
}

// flexID accepts ids sent either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := gojson.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if _, err := strconv.ParseInt(string(b), 10, 64); err != nil {
		return fmt.Errorf("id %s: %w", b, err)
	}
	*f = flexID(b)
	return nil
}

type livestream struct {
	BroadcasterUserID flexID `json:"broadcaster_user_id"`
	ChannelID         flexID `json:"channel_id"`
	Slug              string `json:"slug"`
	StreamTitle       string `json:"stream_title"`
	Language          string `json:"language"`
	ViewerCount       int64  `json:"viewer_count"`
	StartedAt         string `json:"started_at"`
	Thumbnail         string `json:"thumbnail"`
	ProfilePicture    string `json:"profile_picture"`
	FollowersCount    int64  `json:"followers_count"`
	Category          *struct {
		ID   flexID `json:"id"`
		Name string `json:"name"`
	} `json:"category"`
}

// Normalize implements platform.Client.
func (c *Client) Normalize(raw json.RawMessage) (stream.Record, error) {
	var ls livestream
	if err := gojson.Unmarshal(raw, &ls); err != nil {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Kick, Field: "listing", Err: err}
	}
	channelID := string(ls.ChannelID)
	if channelID == "" {
		channelID = string(ls.BroadcasterUserID)
	}
	if channelID == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Kick, Field: "channel_id"}
	}
	if ls.Slug == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Kick, Field: "slug"}
	}
	var catID, catName string
	if ls.Category != nil {
		catID, catName = string(ls.Category.ID), ls.Category.Name
	}
	return stream.Record{
		Channel: stream.Channel{
			Platform:        stream.Kick,
			ChannelID:       channelID,
			Username:        ls.Slug,
			DisplayName:     ls.Slug,
			Description:     stream.Unknown,
			FollowerCount:   ls.FollowersCount,
			ProfileImageURL: stream.OrUnknown(ls.ProfilePicture),
		},
		Snapshot: stream.Snapshot{
			Title:        stream.OrUnknown(ls.StreamTitle),
			CategoryID:   stream.OrUnknown(catID),
			CategoryName: stream.OrUnknown(catName),
			ViewerCount:  ls.ViewerCount,
			Language:     stream.OrUnknown(ls.Language),
			StartedAt:    platform.ParseTime(ls.StartedAt),
			StreamURL:    "https://kick.com/" + ls.Slug,
			ThumbnailURL: stream.OrUnknown(ls.Thumbnail),
		},
	}, nil
}
