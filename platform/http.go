package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/onnwee/livetally/stream"
)

// maxErrorBody bounds how much of an error response is kept in the error text.
const maxErrorBody = 512

// StatusError converts a non-2xx HTTP response into the matching typed error.
// It returns nil for 2xx responses. The body is read (bounded) but not closed.
func StatusError(p stream.Platform, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(b)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Platform: p, Err: cause}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Platform: p, RetryAfter: RetryAfterFromHeader(resp.Header, time.Now()), Err: cause}
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout:
		return &TransientError{Platform: p, Err: cause}
	default:
		return &PermanentError{Platform: p, StatusCode: resp.StatusCode, Err: cause}
	}
}

// RetryAfterFromHeader reads Retry-After (delta seconds or HTTP date) and falls
// back to Twitch's Ratelimit-Reset (unix seconds). Zero means unknown.
func RetryAfterFromHeader(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if v := strings.TrimSpace(h.Get("Ratelimit-Reset")); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(unix, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}

// GetJSON performs an authenticated GET and decodes a 2xx JSON body into out.
// Transport failures become *TransientError; status codes are classified by StatusError.
func GetJSON(ctx context.Context, hc *http.Client, p stream.Platform, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &PermanentError{Platform: p, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return &TransientError{Platform: p, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.String("platform", string(p)), slog.Any("err", err))
		}
	}()
	if err := StatusError(p, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PermanentError{Platform: p, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// ParseTime parses an RFC3339 timestamp, returning nil for blank or invalid input.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
