package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

const streamsPage = `{
  "data": [
    {"id":"1","user_id":"141981764","user_login":"twitchdev","user_name":"TwitchDev","game_id":"509670","game_name":"Science & Technology","type":"live","title":"hello","viewer_count":5723,"started_at":"2021-03-10T15:04:21Z","language":"en","thumbnail_url":"https://static-cdn.jtvnw.net/previews-ttv/live_user_twitchdev-{width}x{height}.jpg"},
    {"id":"2","user_id":"","user_login":"ghost","user_name":"Ghost","viewer_count":1}
  ],
  "pagination": {"cursor":"eyJiIjpudWxs"}
}`

func TestFetchLiveStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/streams" {
			t.Errorf("path = %s, want /streams", r.URL.Path)
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		if got := r.URL.Query().Get("first"); got != "50" {
			t.Errorf("first = %s, want 50", got)
		}
		if got := r.URL.Query().Get("after"); got != "abc" {
			t.Errorf("after = %s, want abc", got)
		}
		_, _ = w.Write([]byte(streamsPage))
	}))
	defer server.Close()

	c := &Client{ClientID: "test-client-id", PageSize: 50, BaseURL: server.URL, HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "test-token", "abc")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	if len(page.Listings) != 2 {
		t.Fatalf("listings = %d, want 2", len(page.Listings))
	}
	if page.NextCursor != "eyJiIjpudWxs" {
		t.Errorf("cursor = %q", page.NextCursor)
	}
}

func TestFetchLiveStreamsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		want   platform.Class
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: platform.ClassAuth},
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "5"}, want: platform.ClassRateLimit},
		{name: "server error", status: http.StatusBadGateway, want: platform.ClassTransient},
		{name: "bad request", status: http.StatusBadRequest, want: platform.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"x"}`))
			}))
			defer server.Close()

			c := &Client{ClientID: "id", BaseURL: server.URL, HTTPClient: server.Client()}
			_, err := c.FetchLiveStreams(context.Background(), "tok", "")
			if got := platform.Classify(err); got != tt.want {
				t.Errorf("class = %v, want %v (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestFetchLiveStreamsEnrichesUsers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/streams":
			_, _ = w.Write([]byte(streamsPage))
		case "/users":
			ids := r.URL.Query()["id"]
			if len(ids) != 1 || ids[0] != "141981764" {
				t.Errorf("user ids = %v", ids)
			}
			_, _ = w.Write([]byte(`{"data":[{"id":"141981764","login":"twitchdev","display_name":"TwitchDev","description":"Supporting third-party developers","profile_image_url":"https://example.com/p.png"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := &Client{ClientID: "id", EnrichUsers: true, BaseURL: server.URL, HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	rec, err := c.Normalize(page.Listings[0])
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Channel.ProfileImageURL != "https://example.com/p.png" {
		t.Errorf("profile image = %q", rec.Channel.ProfileImageURL)
	}
	if rec.Channel.Description != "Supporting third-party developers" {
		t.Errorf("description = %q", rec.Channel.Description)
	}
}

func TestEnrichmentFailureKeepsListings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(streamsPage))
	}))
	defer server.Close()

	c := &Client{ClientID: "id", EnrichUsers: true, BaseURL: server.URL, HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	if len(page.Listings) != 2 {
		t.Errorf("listings = %d, want 2", len(page.Listings))
	}
}

func TestNormalize(t *testing.T) {
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(streamsPage), &body); err != nil {
		t.Fatal(err)
	}
	c := New("id")

	rec, err := c.Normalize(body.Data[0])
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Channel.Platform != stream.Twitch || rec.Channel.ChannelID != "141981764" || rec.Channel.Username != "twitchdev" {
		t.Errorf("channel = %+v", rec.Channel)
	}
	if rec.Channel.DisplayName != "TwitchDev" {
		t.Errorf("display name = %q", rec.Channel.DisplayName)
	}
	if rec.Channel.ProfileImageURL != stream.Unknown || rec.Channel.Description != stream.Unknown {
		t.Errorf("missing optional fields should be %q: %+v", stream.Unknown, rec.Channel)
	}
	s := rec.Snapshot
	if s.ViewerCount != 5723 || s.CategoryName != "Science & Technology" || s.CategoryID != "509670" || s.Language != "en" {
		t.Errorf("snapshot = %+v", s)
	}
	if s.StreamURL != "https://www.twitch.tv/twitchdev" {
		t.Errorf("stream url = %q", s.StreamURL)
	}
	if !strings.HasSuffix(s.ThumbnailURL, "-1920x1080.jpg") {
		t.Errorf("thumbnail = %q", s.ThumbnailURL)
	}
	if s.StartedAt == nil || s.StartedAt.Format("2006-01-02T15:04:05Z") != "2021-03-10T15:04:21Z" {
		t.Errorf("started at = %v", s.StartedAt)
	}

	_, err = c.Normalize(body.Data[1])
	var ne *platform.NormalizationError
	if !errors.As(err, &ne) || ne.Field != "user_id" {
		t.Errorf("Normalize(missing id) error = %v", err)
	}
}

func TestNormalizeMissingOptionalFields(t *testing.T) {
	rec, err := New("id").Normalize(json.RawMessage(`{"user_id":"9","user_login":"quiet"}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Snapshot.Title != stream.Unknown || rec.Snapshot.CategoryName != stream.Unknown || rec.Snapshot.Language != stream.Unknown {
		t.Errorf("snapshot = %+v", rec.Snapshot)
	}
	if rec.Snapshot.ViewerCount != 0 || rec.Snapshot.StartedAt != nil {
		t.Errorf("numeric/time defaults wrong: %+v", rec.Snapshot)
	}
	if rec.Channel.DisplayName != stream.Unknown {
		t.Errorf("display name = %q", rec.Channel.DisplayName)
	}
}

func TestNormalizeMissingLogin(t *testing.T) {
	_, err := New("id").Normalize(json.RawMessage(`{"user_id":"9"}`))
	var ne *platform.NormalizationError
	if !errors.As(err, &ne) || ne.Field != "user_login" {
		t.Errorf("error = %v", err)
	}
}

func TestFetchLiveStreamsFollowerCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/streams":
			_, _ = w.Write([]byte(`{"data":[
				{"user_id":"1","user_login":"alpha","viewer_count":10},
				{"user_id":"2","user_login":"bravo","viewer_count":5}
			],"pagination":{}}`))
		case "/channels/followers":
			if r.Header.Get("Client-Id") != "id" || r.Header.Get("Authorization") != "Bearer tok" {
				t.Errorf("follower lookup headers = %v", r.Header)
			}
			if r.URL.Query().Get("broadcaster_id") == "2" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{"total":1234,"data":[],"pagination":{}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := &Client{ClientID: "id", FollowerCounts: true, BaseURL: server.URL, HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	if len(page.Listings) != 2 {
		t.Fatalf("listings = %d, want 2", len(page.Listings))
	}
	alpha, err := c.Normalize(page.Listings[0])
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if alpha.Channel.FollowerCount != 1234 {
		t.Errorf("follower count = %d, want 1234", alpha.Channel.FollowerCount)
	}
	bravo, err := c.Normalize(page.Listings[1])
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if bravo.Channel.FollowerCount != 0 {
		t.Errorf("failed lookup should leave the count unset, got %d", bravo.Channel.FollowerCount)
	}
}

func TestFetchLiveStreamsKeepsPageWithMalformedRecord(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/streams":
			_, _ = w.Write([]byte(`{"data":[
				{"user_id":"1","user_login":"alpha","viewer_count":10},
				{"user_id":"2","user_login":"bravo","viewer_count":"n/a"},
				{"user_id":"3","user_login":"charlie","viewer_count":3}
			],"pagination":{"cursor":"next"}}`))
		case "/users":
			_, _ = w.Write([]byte(`{"data":[{"id":"2","display_name":"Bravo"},{"id":"3","display_name":"Charlie"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := &Client{ClientID: "id", EnrichUsers: true, BaseURL: server.URL, HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "tok", "")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	if len(page.Listings) != 3 || page.NextCursor != "next" {
		t.Fatalf("listings = %d cursor = %q, want 3 and next", len(page.Listings), page.NextCursor)
	}

	if _, err := c.Normalize(page.Listings[0]); err != nil {
		t.Errorf("Normalize(alpha) error = %v", err)
	}
	_, err = c.Normalize(page.Listings[1])
	var ne *platform.NormalizationError
	if !errors.As(err, &ne) {
		t.Errorf("Normalize(bad viewer_count) error = %v, want NormalizationError", err)
	}
	charlie, err := c.Normalize(page.Listings[2])
	if err != nil {
		t.Fatalf("Normalize(charlie) error = %v", err)
	}
	if charlie.Channel.DisplayName != "Charlie" {
		t.Errorf("display name = %q, want enrichment applied", charlie.Channel.DisplayName)
	}
}
