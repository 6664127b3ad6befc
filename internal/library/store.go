/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package library implements the song catalog, feedback, and play-record store.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/supermix/internal/models"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("library: record not found")

// Affinity bounds for the behavioural score. Feedback is stored separately;
// the score only reflects play/skip behaviour.
const (
	defaultScore = 1.0
	minScore     = 0.5
	maxScore     = 2.0
	playedFactor = 1.05
	skippedFactor = 0.95
)

// Store provides access to songs, per-user feedback, and play records.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewStore creates a library store.
func NewStore(db *gorm.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "library").Logger()}
}

// PlayRecord summarizes a user's play history for one song.
type PlayRecord struct {
	LastPlayed *time.Time
	PlayCount  int
}

// ListCandidates returns the user's library entries eligible for queue
// selection: disliked songs and currently quarantined songs are excluded.
func (s *Store) ListCandidates(ctx context.Context, userID string) ([]models.UserSong, error) {
	unavailable, err := s.unavailableSongIDs(ctx)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Preload("Song").
		Where("user_id = ?", userID).
		Where("feedback <> ?", models.FeedbackDislike)
	if len(unavailable) > 0 {
		query = query.Where("song_id NOT IN ?", unavailable)
	}

	var entries []models.UserSong
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	// Drop rows whose song record went missing rather than surfacing them
	// to the selector.
	out := entries[:0]
	for _, entry := range entries {
		if entry.Song != nil {
			out = append(out, entry)
		}
	}
	return out, nil
}

// RecentPlays returns the most recent confirmed plays, newest first.
func (s *Store) RecentPlays(ctx context.Context, userID string, limit int) ([]models.PlayHistory, error) {
	var plays []models.PlayHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&plays).Error
	if err != nil {
		return nil, fmt.Errorf("recent plays: %w", err)
	}
	return plays, nil
}

// GetFeedback returns the user's feedback for a song, FeedbackNone when no
// entry exists.
func (s *Store) GetFeedback(ctx context.Context, userID, songID string) (models.Feedback, error) {
	var entry models.UserSong
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND song_id = ?", userID, songID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.FeedbackNone, nil
	}
	if err != nil {
		return models.FeedbackNone, err
	}
	return entry.Feedback, nil
}

// SetFeedback records a like or dislike, creating the library link if the song
// was not yet in the user's library.
func (s *Store) SetFeedback(ctx context.Context, userID, songID string, feedback models.Feedback) error {
	if feedback != models.FeedbackLike && feedback != models.FeedbackDislike {
		return fmt.Errorf("invalid feedback value %q", feedback)
	}

	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.UserSong
		err := tx.Where("user_id = ? AND song_id = ?", userID, songID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.UserSong{
				ID:         uuid.NewString(),
				UserID:     userID,
				SongID:     songID,
				Source:     "feedback",
				Feedback:   feedback,
				FeedbackAt: &now,
				Score:      defaultScore,
			}
			return tx.Create(&entry).Error
		}
		if err != nil {
			return err
		}

		entry.Feedback = feedback
		entry.FeedbackAt = &now
		return tx.Save(&entry).Error
	})
}

// ClearFeedback resets a song to neutral. Returns ErrNotFound when the user
// has no library entry for the song.
func (s *Store) ClearFeedback(ctx context.Context, userID, songID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.UserSong{}).
		Where("user_id = ? AND song_id = ?", userID, songID).
		Updates(map[string]any{"feedback": models.FeedbackNone, "feedback_at": nil})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPlayRecord returns the play record for a song; a zero record when the
// song has never been linked.
func (s *Store) GetPlayRecord(ctx context.Context, userID, songID string) (PlayRecord, error) {
	var entry models.UserSong
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND song_id = ?", userID, songID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PlayRecord{}, nil
	}
	if err != nil {
		return PlayRecord{}, err
	}
	return PlayRecord{LastPlayed: entry.LastPlayed, PlayCount: entry.PlayCount}, nil
}

// RecordPlay confirms a song started playing: bumps the play count, the
// last-played timestamp and the behavioural score, and appends a history row.
func (s *Store) RecordPlay(ctx context.Context, userID string, song *models.Song) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.UserSong
		err := tx.Where("user_id = ? AND song_id = ?", userID, song.ID).First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			entry = models.UserSong{
				ID:     uuid.NewString(),
				UserID: userID,
				SongID: song.ID,
				Source: "playback",
				Score:  defaultScore,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		entry.PlayCount++
		entry.LastPlayed = &now
		entry.Score = clampScore(entry.Score * playedFactor)
		if err := tx.Save(&entry).Error; err != nil {
			return err
		}

		history := models.PlayHistory{
			ID:        uuid.NewString(),
			UserID:    userID,
			SongID:    song.ID,
			Artist:    song.Artist,
			ArtistID:  song.ArtistID,
			Genres:    song.Genres,
			StartedAt: now,
		}
		return tx.Create(&history).Error
	})
}

// RecordSkip lowers the behavioural score for a song the user skipped.
func (s *Store) RecordSkip(ctx context.Context, userID, songID string) error {
	var entry models.UserSong
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND song_id = ?", userID, songID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	entry.Score = clampScore(entry.Score * skippedFactor)
	return s.db.WithContext(ctx).Save(&entry).Error
}

// MarkUnavailable quarantines a song. Retryable reasons get a cool-down after
// which the entry no longer blocks selection; hard unavailability persists
// until the given cool-off elapses.
func (s *Store) MarkUnavailable(ctx context.Context, songID string, reason models.UnavailableReason, message string, coolOff time.Duration) error {
	now := time.Now().UTC()
	var retryAfter *time.Time
	if coolOff > 0 {
		t := now.Add(coolOff)
		retryAfter = &t
	}

	entry := models.UnavailableTrack{
		SongID:       songID,
		Reason:       reason,
		ErrorMessage: message,
		FailedAt:     now,
		RetryAfter:   retryAfter,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "song_id"}},
			UpdateAll: true,
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("mark unavailable: %w", err)
	}
	s.logger.Warn().Str("song_id", songID).Str("reason", string(reason)).Msg("song quarantined")
	return nil
}

// IsUnavailable reports whether the song is currently quarantined. Expired
// quarantine entries are removed on the way out.
func (s *Store) IsUnavailable(ctx context.Context, songID string) (bool, error) {
	var entry models.UnavailableTrack
	err := s.db.WithContext(ctx).First(&entry, "song_id = ?", songID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if entry.RetryAfter != nil && !entry.RetryAfter.After(time.Now().UTC()) {
		if err := s.db.WithContext(ctx).Delete(&entry).Error; err != nil {
			return true, err
		}
		return false, nil
	}
	return true, nil
}

// ListUnavailable returns all current quarantine entries, newest failure first.
func (s *Store) ListUnavailable(ctx context.Context) ([]models.UnavailableTrack, error) {
	var entries []models.UnavailableTrack
	err := s.db.WithContext(ctx).
		Order("failed_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list unavailable: %w", err)
	}
	return entries, nil
}

// PruneExpiredUnavailable deletes quarantine entries whose cool-down elapsed.
func (s *Store) PruneExpiredUnavailable(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("retry_after IS NOT NULL AND retry_after <= ?", time.Now().UTC()).
		Delete(&models.UnavailableTrack{})
	return result.RowsAffected, result.Error
}

// FeedbackStats counts liked, disliked, and neutral songs for a user.
type FeedbackStats struct {
	Liked    int64 `json:"liked"`
	Disliked int64 `json:"disliked"`
	Neutral  int64 `json:"neutral"`
}

// GetFeedbackStats returns feedback counts across the user's library.
func (s *Store) GetFeedbackStats(ctx context.Context, userID string) (FeedbackStats, error) {
	var stats FeedbackStats
	base := s.db.WithContext(ctx).Model(&models.UserSong{}).Where("user_id = ?", userID)

	if err := base.Session(&gorm.Session{}).Where("feedback = ?", models.FeedbackLike).Count(&stats.Liked).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("feedback = ?", models.FeedbackDislike).Count(&stats.Disliked).Error; err != nil {
		return stats, err
	}
	if err := base.Session(&gorm.Session{}).Where("feedback = ?", models.FeedbackNone).Count(&stats.Neutral).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// GetSong loads a song by catalog identifier.
func (s *Store) GetSong(ctx context.Context, songID string) (*models.Song, error) {
	var song models.Song
	err := s.db.WithContext(ctx).First(&song, "id = ?", songID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// UpsertSong inserts or refreshes a catalog entry.
func (s *Store) UpsertSong(ctx context.Context, song *models.Song) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(song).Error
}

// LinkUserSong ensures a library link between user and song exists.
func (s *Store) LinkUserSong(ctx context.Context, userID, songID, source string) error {
	entry := models.UserSong{
		ID:     uuid.NewString(),
		UserID: userID,
		SongID: songID,
		Source: source,
		Score:  defaultScore,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "song_id"}},
			DoNothing: true,
		}).
		Create(&entry).Error
}

func (s *Store) unavailableSongIDs(ctx context.Context) ([]string, error) {
	now := time.Now().UTC()
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.UnavailableTrack{}).
		Where("retry_after IS NULL OR retry_after > ?", now).
		Pluck("song_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("unavailable songs: %w", err)
	}
	return ids, nil
}

func clampScore(score float64) float64 {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
