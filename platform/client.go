// Package platform defines the capability every live-streaming platform
// integration implements, together with the shared failure taxonomy used by
// the retry policy and the collector.
package platform

import (
	"context"
	"encoding/json"

	"github.com/onnwee/livetally/stream"
)

// Page is one page of raw, platform-native live listings.
// NextCursor is empty on the last page.
type Page struct {
	Listings   []json.RawMessage
	NextCursor string
}

// Client fetches live listings from one platform and normalizes them.
// New platforms are added by implementing Client; shared code never branches
// on the platform name.
type Client interface {
	Name() stream.Platform
	// FetchLiveStreams returns one page of currently live listings.
	// An empty cursor requests the first page.
	FetchLiveStreams(ctx context.Context, token, cursor string) (Page, error)
	// Normalize maps one raw listing to the canonical Record. It must not fail
	// on missing optional fields; missing mandatory fields yield a
	// *NormalizationError.
	Normalize(raw json.RawMessage) (stream.Record, error)
}
