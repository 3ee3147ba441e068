// Package twitchapi lists live streams from the Twitch Helix API using an app
// access token and normalizes them into canonical records.
package twitchapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	gojson "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

const (
	// DefaultBaseURL is the Helix API root.
	DefaultBaseURL = "https://api.twitch.tv/helix"
	// MaxPageSize is the largest "first" Helix accepts.
	MaxPageSize = 100
)

// Client lists live streams from Helix. It implements platform.Client.
type Client struct {
	ClientID string
	// PageSize is sent as "first"; clamped to [1, MaxPageSize].
	PageSize int
	// EnrichUsers merges /helix/users profile data into each listing.
	EnrichUsers bool
	// FollowerCounts looks up each broadcaster's follower total on
	// /helix/channels/followers, FollowerLookups at a time (default 8).
	FollowerCounts  bool
	FollowerLookups int
	BaseURL         string
	HTTPClient      *http.Client
}

// New returns a Client for clientID with default paging.
func New(clientID string) *Client {
	return &Client{ClientID: clientID, PageSize: MaxPageSize, BaseURL: DefaultBaseURL}
}

var _ platform.Client = (*Client)(nil)

// Name implements platform.Client.
func (c *Client) Name() stream.Platform { return stream.Twitch }

// helixStream is one entry of /helix/streams. The fields at the bottom are
// merged in from /helix/users and /helix/channels/followers.
type helixStream struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	UserLogin    string `json:"user_login"`
	UserName     string `json:"user_name"`
	GameID       string `json:"game_id"`
	GameName     string `json:"game_name"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	ViewerCount  int64  `json:"viewer_count"`
	StartedAt    string `json:"started_at"`
	Language     string `json:"language"`
	ThumbnailURL string `json:"thumbnail_url"`

	ProfileImageURL string `json:"profile_image_url,omitempty"`
	Description     string `json:"description,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	FollowerCount   int64  `json:"follower_count,omitempty"`
}

type helixUser struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return DefaultBaseURL
}

func (c *Client) header(token string) http.Header {
	h := http.Header{}
	h.Set("Client-Id", c.ClientID)
	h.Set("Authorization", "Bearer "+token)
	return h
}

// FetchLiveStreams implements platform.Client. Listings are passed on as
// received so a record of unexpected shape fails only its own normalization.
func (c *Client) FetchLiveStreams(ctx context.Context, token, cursor string) (platform.Page, error) {
	first := c.PageSize
	if first <= 0 || first > MaxPageSize {
		first = MaxPageSize
	}
	q := url.Values{}
	q.Set("first", strconv.Itoa(first))
	if cursor != "" {
		q.Set("after", cursor)
	}
	var body struct {
		Data       []json.RawMessage `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := platform.GetJSON(ctx, c.HTTPClient, stream.Twitch, c.baseURL()+"/streams?"+q.Encode(), c.header(token), &body); err != nil {
		return platform.Page{}, err
	}
	page := platform.Page{NextCursor: body.Pagination.Cursor, Listings: body.Data}
	if page.Listings == nil {
		page.Listings = []json.RawMessage{}
	}
	if !c.EnrichUsers && !c.FollowerCounts {
		return page, nil
	}

	ids := make([]string, len(body.Data))
	for i, raw := range body.Data {
		var ref struct {
			UserID string `json:"user_id"`
		}
		if err := gojson.Unmarshal(raw, &ref); err == nil {
			ids[i] = ref.UserID
		}
	}
	extra := make(map[string]map[string]any)
	if c.EnrichUsers {
		c.enrich(ctx, token, ids, extra)
	}
	if c.FollowerCounts {
		c.followers(ctx, token, ids, extra)
	}
	for i, raw := range page.Listings {
		if fields := extra[ids[i]]; ids[i] != "" && len(fields) > 0 {
			page.Listings[i] = platform.MergeFields(raw, fields)
		}
	}
	return page, nil
}

func addExtra(extra map[string]map[string]any, id, key string, v any) {
	if extra[id] == nil {
		extra[id] = make(map[string]any)
	}
	extra[id][key] = v
}

// enrich adds profile data for the page's broadcasters. Failures are logged
// and the listings are kept as they are.
func (c *Client) enrich(ctx context.Context, token string, ids []string, extra map[string]map[string]any) {
	q := url.Values{}
	for _, id := range ids {
		if id != "" {
			q.Add("id", id)
		}
	}
	if len(q["id"]) == 0 {
		return
	}
	var body struct {
		Data []helixUser `json:"data"`
	}
	if err := platform.GetJSON(ctx, c.HTTPClient, stream.Twitch, c.baseURL()+"/users?"+q.Encode(), c.header(token), &body); err != nil {
		slog.Warn("twitch user enrichment failed", slog.String("component", "twitchapi"), slog.Any("err", err))
		return
	}
	for _, u := range body.Data {
		if u.ProfileImageURL != "" {
			addExtra(extra, u.ID, "profile_image_url", u.ProfileImageURL)
		}
		if u.Description != "" {
			addExtra(extra, u.ID, "description", u.Description)
		}
		if u.DisplayName != "" {
			addExtra(extra, u.ID, "display_name", u.DisplayName)
		}
	}
}

// followers adds each broadcaster's follower total. Lookups that fail leave
// the count unset, which the store treats as unknown.
func (c *Client) followers(ctx context.Context, token string, ids []string, extra map[string]map[string]any) {
	limit := c.FollowerLookups
	if limit <= 0 {
		limit = 8
	}
	totals := make([]int64, len(ids))
	var failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		if id == "" {
			continue
		}
		g.Go(func() error {
			var body struct {
				Total int64 `json:"total"`
			}
			q := url.Values{}
			q.Set("broadcaster_id", id)
			q.Set("first", "1")
			if err := platform.GetJSON(ctx, c.HTTPClient, stream.Twitch, c.baseURL()+"/channels/followers?"+q.Encode(), c.header(token), &body); err != nil {
				failed.Add(1)
				slog.Debug("twitch follower lookup failed", slog.String("component", "twitchapi"), slog.String("broadcaster_id", id), slog.Any("err", err))
				return nil
			}
			totals[i] = body.Total
			return nil
		})
	}
	_ = g.Wait()
	if n := failed.Load(); n > 0 {
		slog.Warn("twitch follower lookups failed", slog.String("component", "twitchapi"), slog.Int("failed", int(n)), slog.Int("total", len(ids)))
	}
	for i, id := range ids {
		if totals[i] > 0 {
			addExtra(extra, id, "follower_count", totals[i])
		}
	}
}
