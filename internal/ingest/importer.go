/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ingest loads a user's library from a liked-songs export file.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/models"
)

// entry is one song in a liked-songs export.
type entry struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	ArtistID        string   `json:"artist_id"`
	Album           string   `json:"album"`
	AlbumID         string   `json:"album_id"`
	DurationSeconds float64  `json:"duration_seconds"`
	ThumbnailURL    string   `json:"thumbnail_url"`
	Genres          []string `json:"genres"`
	Liked           bool     `json:"liked"`
}

// Result summarizes one import run.
type Result struct {
	Imported int
	Liked    int
	Skipped  int
	Warnings []string
}

// Importer writes exported songs into the library.
type Importer struct {
	store  *library.Store
	logger zerolog.Logger
}

// New creates an importer.
func New(store *library.Store, logger zerolog.Logger) *Importer {
	return &Importer{
		store:  store,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// ImportFile reads a liked-songs JSON export and links every song to the user.
func (i *Importer) ImportFile(ctx context.Context, userID, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening export: %w", err)
	}
	defer f.Close()
	return i.Import(ctx, userID, f)
}

// Import reads an export from r. Entries without an ID are skipped with a
// warning rather than aborting the run.
func (i *Importer) Import(ctx context.Context, userID string, r io.Reader) (*Result, error) {
	var entries []entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decoding export: %w", err)
	}

	result := &Result{}
	for idx, e := range entries {
		if e.ID == "" {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("entry %d has no song ID", idx))
			continue
		}

		song := &models.Song{
			ID:           e.ID,
			Title:        e.Title,
			Artist:       e.Artist,
			ArtistID:     e.ArtistID,
			Album:        e.Album,
			AlbumID:      e.AlbumID,
			Duration:     time.Duration(e.DurationSeconds * float64(time.Second)),
			ThumbnailURL: e.ThumbnailURL,
			Genres:       models.GenreList(e.Genres),
		}
		if err := i.store.UpsertSong(ctx, song); err != nil {
			return result, fmt.Errorf("importing song %s: %w", e.ID, err)
		}
		if err := i.store.LinkUserSong(ctx, userID, e.ID, "import"); err != nil {
			return result, fmt.Errorf("linking song %s: %w", e.ID, err)
		}
		result.Imported++

		if e.Liked {
			if err := i.store.SetFeedback(ctx, userID, e.ID, models.FeedbackLike); err != nil {
				return result, fmt.Errorf("marking song %s liked: %w", e.ID, err)
			}
			result.Liked++
		}
	}

	i.logger.Info().
		Str("user_id", userID).
		Int("imported", result.Imported).
		Int("liked", result.Liked).
		Int("skipped", result.Skipped).
		Msg("library import complete")

	return result, nil
}
