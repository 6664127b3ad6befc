/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/supermix/internal/db"
	"github.com/friendsincode/supermix/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	// In-memory sqlite exists per connection; keep the pool at one.
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return NewStore(gdb, zerolog.Nop())
}

func seedSong(t *testing.T, store *Store, id, artist string, genres ...string) *models.Song {
	t.Helper()
	song := &models.Song{
		ID:       id,
		Title:    "title-" + id,
		Artist:   artist,
		ArtistID: artist,
		Genres:   genres,
	}
	if err := store.UpsertSong(context.Background(), song); err != nil {
		t.Fatalf("seeding song %s: %v", id, err)
	}
	return song
}

func TestSetAndGetFeedback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSong(t, store, "s1", "a1")

	fb, err := store.GetFeedback(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if fb != models.FeedbackNone {
		t.Fatalf("expected no feedback, got %q", fb)
	}

	if err := store.SetFeedback(ctx, "u1", "s1", models.FeedbackLike); err != nil {
		t.Fatal(err)
	}
	fb, _ = store.GetFeedback(ctx, "u1", "s1")
	if fb != models.FeedbackLike {
		t.Fatalf("expected like, got %q", fb)
	}

	// Feedback is mutually exclusive: a dislike replaces the like.
	if err := store.SetFeedback(ctx, "u1", "s1", models.FeedbackDislike); err != nil {
		t.Fatal(err)
	}
	fb, _ = store.GetFeedback(ctx, "u1", "s1")
	if fb != models.FeedbackDislike {
		t.Fatalf("expected dislike, got %q", fb)
	}

	if err := store.ClearFeedback(ctx, "u1", "s1"); err != nil {
		t.Fatal(err)
	}
	fb, _ = store.GetFeedback(ctx, "u1", "s1")
	if fb != models.FeedbackNone {
		t.Fatalf("expected cleared feedback, got %q", fb)
	}
}

func TestSetFeedbackRejectsInvalidValue(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetFeedback(context.Background(), "u1", "s1", "meh"); err == nil {
		t.Fatal("expected error for invalid feedback value")
	}
}

func TestClearFeedbackMissingEntry(t *testing.T) {
	store := newTestStore(t)
	err := store.ClearFeedback(context.Background(), "u1", "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordPlayUpdatesRecordAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	song := seedSong(t, store, "s1", "a1", "rock")

	for i := 0; i < 3; i++ {
		if err := store.RecordPlay(ctx, "u1", song); err != nil {
			t.Fatal(err)
		}
	}

	record, err := store.GetPlayRecord(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if record.PlayCount != 3 {
		t.Fatalf("expected play count 3, got %d", record.PlayCount)
	}
	if record.LastPlayed == nil || time.Since(*record.LastPlayed) > time.Minute {
		t.Fatalf("unexpected last played %v", record.LastPlayed)
	}

	plays, err := store.RecentPlays(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(plays) != 3 {
		t.Fatalf("expected 3 history rows, got %d", len(plays))
	}
	if plays[0].Artist != "a1" || len(plays[0].Genres) != 1 {
		t.Fatalf("history row missing denormalized song data: %+v", plays[0])
	}
}

func TestScoreMovesWithBehaviour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	song := seedSong(t, store, "s1", "a1")

	if err := store.RecordPlay(ctx, "u1", song); err != nil {
		t.Fatal(err)
	}
	var entry models.UserSong
	store.db.Where("user_id = ? AND song_id = ?", "u1", "s1").First(&entry)
	afterPlay := entry.Score
	if afterPlay <= defaultScore {
		t.Fatalf("score should rise after a play, got %v", afterPlay)
	}

	if err := store.RecordSkip(ctx, "u1", "s1"); err != nil {
		t.Fatal(err)
	}
	store.db.Where("user_id = ? AND song_id = ?", "u1", "s1").First(&entry)
	if entry.Score >= afterPlay {
		t.Fatalf("score should drop after a skip, got %v", entry.Score)
	}

	// Repeated skips bottom out at the floor.
	for i := 0; i < 50; i++ {
		if err := store.RecordSkip(ctx, "u1", "s1"); err != nil {
			t.Fatal(err)
		}
	}
	store.db.Where("user_id = ? AND song_id = ?", "u1", "s1").First(&entry)
	if entry.Score < minScore-1e-9 {
		t.Fatalf("score %v fell below floor %v", entry.Score, minScore)
	}
}

func TestRecordSkipUnknownSongIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.RecordSkip(context.Background(), "u1", "ghost"); err != nil {
		t.Fatalf("skip of unknown song should be a no-op, got %v", err)
	}
}

func TestListCandidatesFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"liked", "neutral", "disliked", "quarantined"} {
		seedSong(t, store, id, "artist-"+id)
		if err := store.LinkUserSong(ctx, "u1", id, "import"); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SetFeedback(ctx, "u1", "liked", models.FeedbackLike); err != nil {
		t.Fatal(err)
	}
	if err := store.SetFeedback(ctx, "u1", "disliked", models.FeedbackDislike); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkUnavailable(ctx, "quarantined", models.ReasonUnavailable, "gone", 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListCandidates(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, entry := range entries {
		got[entry.SongID] = true
		if entry.Song == nil {
			t.Fatalf("entry %s missing preloaded song", entry.SongID)
		}
	}
	if !got["liked"] || !got["neutral"] {
		t.Fatalf("liked and neutral songs must be candidates, got %v", got)
	}
	if got["disliked"] {
		t.Fatal("disliked song leaked into candidates")
	}
	if got["quarantined"] {
		t.Fatal("quarantined song leaked into candidates")
	}
}

func TestQuarantineExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSong(t, store, "s1", "a1")

	// Negative cool-off puts retry_after in the past immediately.
	if err := store.MarkUnavailable(ctx, "s1", models.ReasonBotDetection, "throttled", -time.Hour); err != nil {
		t.Fatal(err)
	}

	blocked, err := store.IsUnavailable(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Fatal("expired quarantine should not block")
	}

	// The expired entry was removed on read.
	var count int64
	store.db.Model(&models.UnavailableTrack{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected expired entry removed, found %d", count)
	}
}

func TestQuarantineActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSong(t, store, "s1", "a1")

	if err := store.MarkUnavailable(ctx, "s1", models.ReasonUnavailable, "region blocked", 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	blocked, err := store.IsUnavailable(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatal("active quarantine should block")
	}

	// Re-marking updates in place rather than failing on the primary key.
	if err := store.MarkUnavailable(ctx, "s1", models.ReasonBotDetection, "throttled", time.Hour); err != nil {
		t.Fatal(err)
	}
	var entry models.UnavailableTrack
	store.db.First(&entry, "song_id = ?", "s1")
	if entry.Reason != models.ReasonBotDetection {
		t.Fatalf("expected updated reason, got %q", entry.Reason)
	}
}

func TestPruneExpiredUnavailable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.MarkUnavailable(ctx, "expired", models.ReasonBotDetection, "", -time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkUnavailable(ctx, "active", models.ReasonUnavailable, "", 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.PruneExpiredUnavailable(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", pruned)
	}
	if blocked, _ := store.IsUnavailable(ctx, "active"); !blocked {
		t.Fatal("active quarantine must survive pruning")
	}
}

func TestGetFeedbackStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"l1", "l2", "d1", "n1", "n2", "n3"} {
		seedSong(t, store, id, "a")
		if err := store.LinkUserSong(ctx, "u1", id, "import"); err != nil {
			t.Fatal(err)
		}
		switch {
		case i < 2:
			store.SetFeedback(ctx, "u1", id, models.FeedbackLike)
		case i == 2:
			store.SetFeedback(ctx, "u1", id, models.FeedbackDislike)
		}
	}

	stats, err := store.GetFeedbackStats(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Liked != 2 || stats.Disliked != 1 || stats.Neutral != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestLinkUserSongIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedSong(t, store, "s1", "a1")

	if err := store.LinkUserSong(ctx, "u1", "s1", "import"); err != nil {
		t.Fatal(err)
	}
	if err := store.LinkUserSong(ctx, "u1", "s1", "import"); err != nil {
		t.Fatal(err)
	}

	var count int64
	store.db.Model(&models.UserSong{}).Where("user_id = ? AND song_id = ?", "u1", "s1").Count(&count)
	if count != 1 {
		t.Fatalf("expected a single link, got %d", count)
	}
}

func TestUpsertSongRefreshesMetadata(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSong(t, store, "s1", "a1", "rock")
	updated := &models.Song{ID: "s1", Title: "new title", Artist: "a1", ArtistID: "a1", Genres: models.GenreList{"rock", "indie"}}
	if err := store.UpsertSong(ctx, updated); err != nil {
		t.Fatal(err)
	}

	song, err := store.GetSong(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if song.Title != "new title" || len(song.Genres) != 2 {
		t.Fatalf("metadata not refreshed: %+v", song)
	}
}

func TestGetSongNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSong(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
