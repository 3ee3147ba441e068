package collector

import (
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/livetally/stream"
)

// Outcome is the terminal state of one collection cycle.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeSkipped means nothing was fetched: the platform was already
	// collecting or its circuit breaker was open.
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Summary reports what one cycle did.
type Summary struct {
	Platform   stream.Platform `json:"platform"`
	CycleID    uuid.UUID       `json:"cycle_id"`
	Outcome    Outcome         `json:"outcome"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration_ns"`
	Pages      int             `json:"pages"`
	Fetched    int             `json:"fetched"`
	Normalized int             `json:"normalized"`
	Saved      int             `json:"saved"`
	// Errored is NormalizeErrors + PersistErrors.
	Errored         int `json:"errored"`
	NormalizeErrors int `json:"normalize_errors"`
	PersistErrors   int `json:"persist_errors"`
	// Duplicates are records whose channel already had a snapshot in this
	// cycle; they are neither saved nor errored.
	Duplicates int    `json:"duplicates"`
	Error      string `json:"error,omitempty"`

	// Live holds the records saved by the cycle, for the live cache.
	Live []stream.Record `json:"-"`
}

func skipped(p stream.Platform, reason string) Summary {
	return Summary{Platform: p, Outcome: OutcomeSkipped, StartedAt: time.Now().UTC(), Error: reason}
}
