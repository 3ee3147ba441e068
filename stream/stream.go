// Package stream holds the canonical channel/snapshot shapes every platform
// listing is normalized into before it is persisted.
package stream

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies one third-party live-streaming service.
type Platform string

const (
	Twitch  Platform = "twitch"
	Kick    Platform = "kick"
	YouTube Platform = "youtube"
)

// Unknown replaces optional string fields a platform did not report.
const Unknown = "unknown"

// Channel is a persistent identity on a platform. (Platform, ChannelID) is the natural key.
type Channel struct {
	ID              int64
	Platform        Platform
	ChannelID       string
	Username        string
	DisplayName     string
	Description     string
	FollowerCount   int64
	ProfileImageURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot is one point-in-time observation of a live channel.
type Snapshot struct {
	ID           int64
	ChannelRef   int64
	CycleID      uuid.UUID
	Title        string
	CategoryID   string
	CategoryName string
	ViewerCount  int64
	Language     string
	StartedAt    *time.Time
	CollectedAt  time.Time
	StreamURL    string
	ThumbnailURL string
}

// Record pairs the channel fields and snapshot fields produced from one raw listing.
type Record struct {
	Channel  Channel
	Snapshot Snapshot
}

// OrUnknown returns s, or Unknown when s is blank.
func OrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
