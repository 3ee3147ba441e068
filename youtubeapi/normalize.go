package youtubeapi

import (
	"encoding/json"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

// Normalize implements platform.Client. The username is the channel's custom
// URL handle when it has one, otherwise the channel title.
func (c *Client) Normalize(raw json.RawMessage) (stream.Record, error) {
	var l listing
	if err := gojson.Unmarshal(raw, &l); err != nil {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.YouTube, Field: "listing", Err: err}
	}
	if strings.TrimSpace(l.ChannelID) == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.YouTube, Field: "channel_id"}
	}
	username := strings.TrimPrefix(l.CustomURL, "@")
	if username == "" {
		username = l.ChannelTitle
	}
	if strings.TrimSpace(username) == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.YouTube, Field: "username"}
	}
	streamURL := stream.Unknown
	if l.VideoID != "" {
		streamURL = "https://www.youtube.com/watch?v=" + l.VideoID
	}
	return stream.Record{
		Channel: stream.Channel{
			Platform:        stream.YouTube,
			ChannelID:       l.ChannelID,
			Username:        username,
			DisplayName:     stream.OrUnknown(l.ChannelTitle),
			Description:     stream.OrUnknown(l.ChannelDesc),
			FollowerCount:   l.SubscriberCount,
			ProfileImageURL: stream.OrUnknown(l.ProfileImageURL),
		},
		Snapshot: stream.Snapshot{
			Title:        stream.OrUnknown(l.Title),
			CategoryID:   stream.OrUnknown(l.CategoryID),
			CategoryName: stream.Unknown,
			ViewerCount:  l.ConcurrentViewers,
			Language:     stream.OrUnknown(l.Language),
			StartedAt:    platform.ParseTime(l.ActualStartTime),
			StreamURL:    streamURL,
			ThumbnailURL: stream.OrUnknown(l.ThumbnailURL),
		},
	}, nil
}
