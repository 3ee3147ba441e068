// Package livecache mirrors the channels that were live in the most recent
// successful cycle of each platform into a Redis hash.
package livecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/livetally/collector"
	"github.com/onnwee/livetally/stream"
)

// Entry is the cached view of one live channel.
type Entry struct {
	ChannelID     string     `json:"channel_id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	FollowerCount int64      `json:"follower_count"`
	Title         string     `json:"title"`
	CategoryName  string     `json:"category_name"`
	ViewerCount   int64      `json:"viewer_count"`
	Language      string     `json:"language"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CollectedAt   time.Time  `json:"collected_at"`
	StreamURL     string     `json:"stream_url"`
	ThumbnailURL  string     `json:"thumbnail_url"`
	CycleID       string     `json:"cycle_id"`
}

// Key returns the hash holding p's live channels.
func Key(p stream.Platform) string {
	return fmt.Sprintf("livetally:live:{%s}", p)
}

// Cache writes live snapshots to Redis. The hash of a platform is replaced
// wholesale after each successful cycle and expires after three intervals so
// a platform that stops collecting does not look live forever.
type Cache struct {
	Client    *redis.Client
	Intervals map[stream.Platform]time.Duration
}

// Connect parses redisURL, pings the server and returns a client.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *Cache) ttl(p stream.Platform) time.Duration {
	if d, ok := c.Intervals[p]; ok && d > 0 {
		return 3 * d
	}
	return 6 * time.Minute
}

// Replace overwrites p's live hash with records.
func (c *Cache) Replace(ctx context.Context, p stream.Platform, records []stream.Record) error {
	if c == nil || c.Client == nil {
		return errors.New("nil redis client")
	}
	key := Key(p)
	fields := make([]any, 0, 2*len(records))
	for _, r := range records {
		b, err := json.Marshal(entryFor(r))
		if err != nil {
			return fmt.Errorf("marshal %s/%s: %w", p, r.Channel.ChannelID, err)
		}
		fields = append(fields, r.Channel.ChannelID, string(b))
	}

	pipe := c.Client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields...)
		pipe.Expire(ctx, key, c.ttl(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace %s: %w", key, err)
	}
	return nil
}

// Live returns p's cached entries ordered by viewer count, highest first.
func (c *Cache) Live(ctx context.Context, p stream.Platform) ([]Entry, error) {
	raw, err := c.Client.HGetAll(ctx, Key(p)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL %s: %w", Key(p), err)
	}
	out := make([]Entry, 0, len(raw))
	for field, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			slog.Warn("skipping unreadable live entry",
				slog.String("component", "livecache"),
				slog.String("platform", string(p)),
				slog.String("channel_id", field),
				slog.Any("err", err))
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewerCount != out[j].ViewerCount {
			return out[i].ViewerCount > out[j].ViewerCount
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out, nil
}

// Report publishes a succeeded cycle's live records. Failed and skipped
// cycles leave the previous view in place until it expires.
func (c *Cache) Report(ctx context.Context, sum collector.Summary) {
	if sum.Outcome != collector.OutcomeSucceeded {
		return
	}
	if err := c.Replace(context.WithoutCancel(ctx), sum.Platform, sum.Live); err != nil {
		slog.Warn("live cache update failed",
			slog.String("component", "livecache"),
			slog.String("platform", string(sum.Platform)),
			slog.String("corr", sum.CycleID.String()),
			slog.Any("err", err))
		return
	}
	slog.Debug("live cache updated",
		slog.String("component", "livecache"),
		slog.String("platform", string(sum.Platform)),
		slog.Int("channels", len(sum.Live)))
}

func entryFor(r stream.Record) Entry {
	return Entry{
		ChannelID:     r.Channel.ChannelID,
		Username:      r.Channel.Username,
		DisplayName:   r.Channel.DisplayName,
		FollowerCount: r.Channel.FollowerCount,
		Title:         r.Snapshot.Title,
		CategoryName:  r.Snapshot.CategoryName,
		ViewerCount:   r.Snapshot.ViewerCount,
		Language:      r.Snapshot.Language,
		StartedAt:     r.Snapshot.StartedAt,
		CollectedAt:   r.Snapshot.CollectedAt,
		StreamURL:     r.Snapshot.StreamURL,
		ThumbnailURL:  r.Snapshot.ThumbnailURL,
		CycleID:       r.Snapshot.CycleID.String(),
	}
}
