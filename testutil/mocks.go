package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
)

// MockAPI is a test server that routes by path and records every request.
type MockAPI struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []*http.Request
}

// NewMockAPI starts a MockAPI that answers 404 for unknown paths.
func NewMockAPI(t *testing.T) *MockAPI {
	t.Helper()
	m := &MockAPI{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(r.Context()))
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle routes path to h, replacing any previous handler.
func (m *MockAPI) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// JSON answers path with status and body encoded as JSON.
func (m *MockAPI) JSON(path string, status int, body any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
	})
}

// Requests returns the requests received for path.
func (m *MockAPI) Requests(path string) []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*http.Request
	for _, r := range m.requests {
		if r.URL.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// MockTokenResponse answers path like an OAuth2 client-credentials endpoint.
func (m *MockAPI) MockTokenResponse(path, accessToken string, expiresIn int) {
	m.JSON(path, http.StatusOK, map[string]any{
		"access_token": accessToken,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}
