package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/livetally/collector"
	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
)

// HandleAdminCollect runs an immediate cycle for ?platform= (all platforms
// when omitted) and returns the summaries. A platform that is already
// collecting reports "skipped".
func (h *Handlers) HandleAdminCollect(w http.ResponseWriter, r *http.Request) {
	if h.collector == nil {
		http.Error(w, "collector not configured", http.StatusServiceUnavailable)
		return
	}
	p := stream.Platform(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("platform"))))

	sums, err := h.collector.RunNow(r.Context(), p)
	switch {
	case errors.Is(err, collector.ErrUnknownPlatform):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, collector.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	telemetry.LoggerWithCorr(r.Context()).Info("manual collection finished",
		slog.String("component", "http"),
		slog.String("platform", string(p)),
		slog.Int("cycles", len(sums)))
	writeJSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

// HandleStatus returns the latest cycle summary of every platform.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var platforms []stream.Platform
	if h.collector != nil {
		platforms = h.collector.Platforms()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"platforms": platforms,
		"last":      h.status.Snapshot(),
	})
}

// HandleLive returns the cached live channels of one platform.
func (h *Handlers) HandleLive(w http.ResponseWriter, r *http.Request) {
	if h.live == nil {
		http.Error(w, "live cache not configured", http.StatusNotFound)
		return
	}
	p := stream.Platform(strings.ToLower(r.PathValue("platform")))
	entries, err := h.live.Live(r.Context(), p)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("live cache read failed",
			slog.String("component", "http"),
			slog.String("platform", string(p)),
			slog.Any("err", err))
		http.Error(w, "live cache unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform": p, "count": len(entries), "channels": entries})
}
