package server

import (
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
)

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("component", "http"), slog.Any("err", err))
	}
}
