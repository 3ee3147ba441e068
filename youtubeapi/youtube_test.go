package youtubeapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

func newFakeAPI(t *testing.T, searchStatus int, searchBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "api-key" {
			t.Errorf("%s: key = %q, want api-key", r.URL.Path, r.URL.Query().Get("key"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/search"):
			q := r.URL.Query()
			if q.Get("eventType") != "live" || q.Get("type") != "video" {
				t.Errorf("search query = %v", q)
			}
			w.WriteHeader(searchStatus)
			_, _ = w.Write([]byte(searchBody))
		case strings.HasSuffix(r.URL.Path, "/videos"):
			_, _ = w.Write([]byte(`{"items":[{"id":"vid1","snippet":{"categoryId":"20","defaultAudioLanguage":"en"},"liveStreamingDetails":{"concurrentViewers":"4321","actualStartTime":"2024-05-01T12:00:00Z"}}]}`))
		case strings.HasSuffix(r.URL.Path, "/channels"):
			_, _ = w.Write([]byte(`{"items":[{"id":"UC123","snippet":{"title":"Lofi Girl","customUrl":"@lofigirl","description":"beats","thumbnails":{"default":{"url":"https://yt3.example/p.jpg"}}},"statistics":{"subscriberCount":"1500000"}}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

const searchBody = `{
  "nextPageToken": "CAUQAA",
  "items": [
    {"id":{"kind":"youtube#video","videoId":"vid1"},"snippet":{"channelId":"UC123","channelTitle":"Lofi Girl","title":"lofi hip hop radio","thumbnails":{"high":{"url":"https://i.ytimg.com/vi/vid1/hq.jpg"}}}}
  ]
}`

func TestFetchAndNormalize(t *testing.T) {
	server := newFakeAPI(t, http.StatusOK, searchBody)
	defer server.Close()

	c := &Client{PageSize: 10, Endpoint: server.URL + "/", HTTPClient: server.Client()}
	page, err := c.FetchLiveStreams(context.Background(), "api-key", "")
	if err != nil {
		t.Fatalf("FetchLiveStreams() error = %v", err)
	}
	if page.NextCursor != "CAUQAA" {
		t.Errorf("cursor = %q", page.NextCursor)
	}
	if len(page.Listings) != 1 {
		t.Fatalf("listings = %d, want 1", len(page.Listings))
	}

	rec, err := c.Normalize(page.Listings[0])
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	ch := rec.Channel
	if ch.Platform != stream.YouTube || ch.ChannelID != "UC123" || ch.Username != "lofigirl" || ch.DisplayName != "Lofi Girl" {
		t.Errorf("channel = %+v", ch)
	}
	if ch.FollowerCount != 1500000 {
		t.Errorf("follower count = %d", ch.FollowerCount)
	}
	s := rec.Snapshot
	if s.ViewerCount != 4321 || s.Language != "en" || s.CategoryID != "20" {
		t.Errorf("snapshot = %+v", s)
	}
	if s.StreamURL != "https://www.youtube.com/watch?v=vid1" {
		t.Errorf("stream url = %q", s.StreamURL)
	}
	if s.StartedAt == nil {
		t.Error("started at not parsed")
	}
}

func TestFetchClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   platform.Class
	}{
		{name: "quota", status: http.StatusForbidden, body: `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded"}]}}`, want: platform.ClassRateLimit},
		{name: "bad key", status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"bad key","errors":[{"reason":"keyInvalid"}]}}`, want: platform.ClassAuth},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":{"code":403,"message":"no"}}`, want: platform.ClassAuth},
		{name: "backend", status: http.StatusServiceUnavailable, body: `{"error":{"code":503,"message":"down"}}`, want: platform.ClassTransient},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":{"code":400,"message":"invalid"}}`, want: platform.ClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newFakeAPI(t, tt.status, tt.body)
			defer server.Close()
			c := &Client{Endpoint: server.URL + "/", HTTPClient: server.Client()}
			_, err := c.FetchLiveStreams(context.Background(), "api-key", "")
			if got := platform.Classify(err); got != tt.want {
				t.Errorf("class = %v, want %v (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestFetchWithoutKey(t *testing.T) {
	if _, err := New().FetchLiveStreams(context.Background(), "", ""); !platform.IsAuth(err) {
		t.Errorf("error = %v, want AuthError", err)
	}
}

func TestNormalizeFallbacks(t *testing.T) {
	c := New()
	rec, err := c.Normalize([]byte(`{"video_id":"v","channel_id":"UC9","channel_title":"Someone"}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Channel.Username != "Someone" {
		t.Errorf("username = %q, want channel title", rec.Channel.Username)
	}
	if rec.Snapshot.Language != stream.Unknown || rec.Snapshot.ViewerCount != 0 || rec.Snapshot.StartedAt != nil {
		t.Errorf("snapshot defaults = %+v", rec.Snapshot)
	}

	_, err = c.Normalize([]byte(`{"video_id":"v","channel_title":"Someone"}`))
	var ne *platform.NormalizationError
	if !errors.As(err, &ne) || ne.Field != "channel_id" {
		t.Errorf("missing channel id error = %v", err)
	}
	_, err = c.Normalize([]byte(`{"video_id":"v","channel_id":"UC9"}`))
	if !errors.As(err, &ne) || ne.Field != "username" {
		t.Errorf("missing username error = %v", err)
	}
}
