package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/stream"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := openTestDB(t)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func record(channelID string, followers int64, cycle uuid.UUID, at time.Time) stream.Record {
	return stream.Record{
		Channel: stream.Channel{
			Platform:        stream.Kick,
			ChannelID:       channelID,
			Username:        "user" + channelID,
			DisplayName:     "User " + channelID,
			Description:     stream.Unknown,
			FollowerCount:   followers,
			ProfileImageURL: "https://example.com/" + channelID + ".png",
		},
		Snapshot: stream.Snapshot{
			CycleID:      cycle,
			Title:        "live now",
			CategoryName: "Just Chatting",
			ViewerCount:  42,
			Language:     "en",
			CollectedAt:  at,
			StreamURL:    "https://kick.com/user" + channelID,
		},
	}
}

func TestSaveUpsertsChannelAndAppendsSnapshots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Save(ctx, record("1", 100, uuid.New(), t0)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, record("1", 150, uuid.New(), t0.Add(2*time.Minute))); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	if n, _ := s.CountChannels(ctx); n != 1 {
		t.Errorf("channels = %d, want 1", n)
	}
	if n, _ := s.CountSnapshots(ctx); n != 2 {
		t.Errorf("snapshots = %d, want 2", n)
	}
	ch, err := s.ChannelByKey(ctx, stream.Kick, "1")
	if err != nil {
		t.Fatalf("ChannelByKey() error = %v", err)
	}
	if ch.FollowerCount != 150 {
		t.Errorf("follower count = %d, want 150", ch.FollowerCount)
	}
	if ch.UpdatedAt.Before(ch.CreatedAt) {
		t.Errorf("updated_at %v before created_at %v", ch.UpdatedAt, ch.CreatedAt)
	}

	snaps, err := s.SnapshotsBetween(ctx, t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("SnapshotsBetween() error = %v", err)
	}
	if len(snaps) != 2 || snaps[0].ChannelRef != ch.ID || !snaps[0].CollectedAt.Before(snaps[1].CollectedAt) {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestUpsertKeepsKnownValues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := record("2", 10, uuid.New(), time.Now())
	id1, err := s.UpsertChannel(ctx, rec.Channel)
	if err != nil {
		t.Fatal(err)
	}
	rec.Channel.ProfileImageURL = stream.Unknown
	id2, err := s.UpsertChannel(ctx, rec.Channel)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("upsert returned a new id: %d != %d", id1, id2)
	}
	ch, _ := s.ChannelByKey(ctx, stream.Kick, "2")
	if ch.ProfileImageURL != "https://example.com/2.png" {
		t.Errorf("profile image overwritten with placeholder: %q", ch.ProfileImageURL)
	}
}

func TestSnapshotOncePerCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cycle := uuid.New()
	rec := record("3", 1, cycle, time.Now())

	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec.Channel.FollowerCount = 5
	if err := s.Save(ctx, rec); !errors.Is(err, platform.ErrDuplicateSnapshot) {
		t.Fatalf("repeated Save() error = %v, want ErrDuplicateSnapshot", err)
	}
	if n, _ := s.CountSnapshots(ctx); n != 1 {
		t.Errorf("snapshots = %d, want 1 for a repeated cycle", n)
	}
	// The channel update of the repeated save still commits.
	if ch, _ := s.ChannelByKey(ctx, stream.Kick, "3"); ch.FollowerCount != 5 {
		t.Errorf("follower count = %d, want 5", ch.FollowerCount)
	}
}

func TestInsertSnapshotReportsDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := record("4", 1, uuid.New(), time.Now())
	id, err := s.UpsertChannel(ctx, rec.Channel)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.InsertSnapshot(ctx, id, rec.Snapshot); err != nil {
		t.Fatalf("InsertSnapshot() error = %v", err)
	}
	if err := s.InsertSnapshot(ctx, id, rec.Snapshot); !errors.Is(err, platform.ErrDuplicateSnapshot) {
		t.Errorf("second InsertSnapshot() error = %v, want ErrDuplicateSnapshot", err)
	}
}

func TestZeroFollowerCountKeepsKnownValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()

	if err := s.Save(ctx, record("5", 150, uuid.New(), t0)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, record("5", 0, uuid.New(), t0.Add(time.Minute))); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	ch, err := s.ChannelByKey(ctx, stream.Kick, "5")
	if err != nil {
		t.Fatalf("ChannelByKey() error = %v", err)
	}
	if ch.FollowerCount != 150 {
		t.Errorf("follower count = %d, want 150 kept over an unreported 0", ch.FollowerCount)
	}
	if n, _ := s.CountSnapshots(ctx); n != 2 {
		t.Errorf("snapshots = %d, want 2", n)
	}
}

func TestSaveFailureIsPersistenceError(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Save(ctx, record("4", 1, uuid.New(), time.Now()))
	var pe *platform.PersistenceError
	if !errors.As(err, &pe) || pe.ChannelID != "4" || pe.Platform != stream.Kick {
		t.Fatalf("Save() error = %v, want PersistenceError for kick/4", err)
	}
	if n, _ := s.CountChannels(context.Background()); n != 0 {
		t.Errorf("channels = %d after failed save", n)
	}
}

func TestChannelByKeyNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ChannelByKey(context.Background(), stream.Twitch, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
