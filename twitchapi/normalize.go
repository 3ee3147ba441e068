package twitchapi

import (
	"encoding/json"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

const thumbnailSize = "1920x1080"

// Normalize implements platform.Client.
func (c *Client) Normalize(raw json.RawMessage) (stream.Record, error) {
	var s helixStream
	if err := gojson.Unmarshal(raw, &s); err != nil {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Twitch, Field: "listing", Err: err}
	}
	if strings.TrimSpace(s.UserID) == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Twitch, Field: "user_id"}
	}
	if strings.TrimSpace(s.UserLogin) == "" {
		return stream.Record{}, &platform.NormalizationError{Platform: stream.Twitch, Field: "user_login"}
	}
	display := s.DisplayName
	if display == "" {
		display = s.UserName
	}
	thumb := strings.NewReplacer("{width}x{height}", thumbnailSize, "{width}", "1920", "{height}", "1080").Replace(s.ThumbnailURL)

	return stream.Record{
		Channel: stream.Channel{
			Platform:        stream.Twitch,
			ChannelID:       s.UserID,
			Username:        s.UserLogin,
			DisplayName:     stream.OrUnknown(display),
			Description:     stream.OrUnknown(s.Description),
			FollowerCount:   s.FollowerCount,
			ProfileImageURL: stream.OrUnknown(s.ProfileImageURL),
		},
		Snapshot: stream.Snapshot{
			Title:        stream.OrUnknown(s.Title),
			CategoryID:   stream.OrUnknown(s.GameID),
			CategoryName: stream.OrUnknown(s.GameName),
			ViewerCount:  s.ViewerCount,
			Language:     stream.OrUnknown(s.Language),
			StartedAt:    platform.ParseTime(s.StartedAt),
			StreamURL:    "https://www.twitch.tv/" + s.UserLogin,
			ThumbnailURL: stream.OrUnknown(thumb),
		},
	}, nil
}
