package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists normalized records. Each Save is one transaction: the channel
// upsert happens before the snapshot insert and both commit or neither does.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// A known value is never replaced by the "unknown" placeholder, and a known
// follower count is never replaced by zero (hidden or not reported).
const upsertChannelSQL = `INSERT INTO channels (platform, channel_id, username, display_name, description, follower_count, profile_image_url, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	ON CONFLICT (platform, channel_id) DO UPDATE SET
		username = EXCLUDED.username,
		display_name = COALESCE(NULLIF(EXCLUDED.display_name, 'unknown'), channels.display_name),
		description = COALESCE(NULLIF(EXCLUDED.description, 'unknown'), channels.description),
		follower_count = CASE WHEN EXCLUDED.follower_count > 0 THEN EXCLUDED.follower_count ELSE channels.follower_count END,
		profile_image_url = COALESCE(NULLIF(EXCLUDED.profile_image_url, 'unknown'), channels.profile_image_url),
		updated_at = NOW()
	RETURNING id`

const insertSnapshotSQL = `INSERT INTO live_snapshots (channel_ref, cycle_id, title, category_id, category_name, viewer_count, language, started_at, collected_at, stream_url, thumbnail_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (channel_ref, cycle_id) DO NOTHING`

// UpsertChannel inserts the channel or updates the existing row for its
// (platform, channel_id) in a single statement, returning the row id.
func (s *Store) UpsertChannel(ctx context.Context, c stream.Channel) (int64, error) {
	return upsertChannel(ctx, s.db, c)
}

func upsertChannel(ctx context.Context, ex execer, c stream.Channel) (int64, error) {
	var id int64
	err := ex.QueryRowContext(ctx, upsertChannelSQL,
		string(c.Platform), c.ChannelID, c.Username, c.DisplayName, c.Description, c.FollowerCount, c.ProfileImageURL,
	).Scan(&id)
	if err != nil {
		return 0, &platform.PersistenceError{Platform: c.Platform, ChannelID: c.ChannelID, Op: "upsert channel", Err: err}
	}
	return id, nil
}

// InsertSnapshot appends a snapshot for channelRef. A second insert for the
// same channel and cycle stores nothing and returns
// platform.ErrDuplicateSnapshot.
func (s *Store) InsertSnapshot(ctx context.Context, channelRef int64, snap stream.Snapshot) error {
	inserted, err := insertSnapshot(ctx, s.db, channelRef, snap)
	if err != nil {
		return err
	}
	if !inserted {
		return platform.ErrDuplicateSnapshot
	}
	return nil
}

func insertSnapshot(ctx context.Context, ex execer, channelRef int64, snap stream.Snapshot) (bool, error) {
	var startedAt sql.NullTime
	if snap.StartedAt != nil {
		startedAt = sql.NullTime{Time: *snap.StartedAt, Valid: true}
	}
	res, err := ex.ExecContext(ctx, insertSnapshotSQL,
		channelRef, snap.CycleID, snap.Title, snap.CategoryID, snap.CategoryName, snap.ViewerCount,
		snap.Language, startedAt, snap.CollectedAt.UTC(), snap.StreamURL, snap.ThumbnailURL,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save upserts the record's channel and appends its snapshot atomically.
// Failures are *platform.PersistenceError. When the channel already has a
// snapshot for the cycle the channel update still commits and Save returns
// platform.ErrDuplicateSnapshot.
func (s *Store) Save(ctx context.Context, r stream.Record) (err error) {
	ch := r.Channel
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &platform.PersistenceError{Platform: ch.Platform, ChannelID: ch.ChannelID, Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("rollback failed", slog.String("component", "db"), slog.Any("err", rbErr))
			}
		}
	}()

	id, err := upsertChannel(ctx, tx, ch)
	if err != nil {
		return err
	}
	inserted, err := insertSnapshot(ctx, tx, id, r.Snapshot)
	if err != nil {
		return &platform.PersistenceError{Platform: ch.Platform, ChannelID: ch.ChannelID, Op: "insert snapshot", Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &platform.PersistenceError{Platform: ch.Platform, ChannelID: ch.ChannelID, Op: "commit", Err: err}
	}
	if !inserted {
		return platform.ErrDuplicateSnapshot
	}
	return nil
}

// ChannelByKey returns the channel stored for (p, channelID) or ErrNotFound.
func (s *Store) ChannelByKey(ctx context.Context, p stream.Platform, channelID string) (stream.Channel, error) {
	var (
		c                    stream.Channel
		plat                 string
		display, desc, image sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, platform, channel_id, username, display_name, description, follower_count, profile_image_url, created_at, updated_at
		FROM channels WHERE platform = $1 AND channel_id = $2`, string(p), channelID).
		Scan(&c.ID, &plat, &c.ChannelID, &c.Username, &display, &desc, &c.FollowerCount, &image, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.Channel{}, fmt.Errorf("channel %s/%s: %w", p, channelID, ErrNotFound)
	}
	if err != nil {
		return stream.Channel{}, err
	}
	c.Platform = stream.Platform(plat)
	c.DisplayName, c.Description, c.ProfileImageURL = display.String, desc.String, image.String
	return c, nil
}

// SnapshotsBetween returns snapshots collected in [from, to), oldest first.
func (s *Store) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]stream.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_ref, cycle_id, COALESCE(title,''), COALESCE(category_id,''), COALESCE(category_name,''),
			viewer_count, COALESCE(language,''), started_at, collected_at, COALESCE(stream_url,''), COALESCE(thumbnail_url,'')
		FROM live_snapshots WHERE collected_at >= $1 AND collected_at < $2
		ORDER BY collected_at, id`, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.String("component", "db"), slog.Any("err", err))
		}
	}()

	var out []stream.Snapshot
	for rows.Next() {
		var (
			snap    stream.Snapshot
			started sql.NullTime
		)
		if err := rows.Scan(&snap.ID, &snap.ChannelRef, &snap.CycleID, &snap.Title, &snap.CategoryID, &snap.CategoryName,
			&snap.ViewerCount, &snap.Language, &started, &snap.CollectedAt, &snap.StreamURL, &snap.ThumbnailURL); err != nil {
			return nil, err
		}
		if started.Valid {
			t := started.Time.UTC()
			snap.StartedAt = &t
		}
		snap.CollectedAt = snap.CollectedAt.UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// CountChannels returns the number of distinct channels ever seen.
func (s *Store) CountChannels(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels`).Scan(&n)
	return n, err
}

// CountSnapshots returns the number of stored snapshots.
func (s *Store) CountSnapshots(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM live_snapshots`).Scan(&n)
	return n, err
}
