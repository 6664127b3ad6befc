/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package selector

import (
	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/models"
)

// window tracks the rolling constraint state while a batch is being built:
// the last few artist keys for the artist-gap rule and per-genre counts over
// a trailing window for the genre-ratio rule. Songs picked during the batch
// are folded in via observe so the constraints hold within the batch too.
type window struct {
	minArtistGap  int
	maxGenreRatio float64
	genreWindow   int

	// artistTail holds the most recent artist keys, newest first, capped at
	// minArtistGap entries.
	artistTail []string

	// genreTail holds the genre sets of the most recent entries, newest
	// first, capped at genreWindow entries. genreCounts is kept in sync.
	genreTail   [][]string
	genreCounts map[string]int
}

func newWindow(recent []Recent, cfg config.QueueConfig) *window {
	w := &window{
		minArtistGap:  cfg.MinArtistGap,
		maxGenreRatio: cfg.MaxGenreRatio,
		genreWindow:   cfg.GenreWindow,
		genreCounts:   make(map[string]int),
	}
	// recent is newest first; replay oldest first so the caps keep the
	// newest entries.
	for i := len(recent) - 1; i >= 0; i-- {
		w.push(recent[i].ArtistKey, recent[i].Genres)
	}
	return w
}

func (w *window) observe(song *models.Song) {
	w.push(song.ArtistKey(), song.Genres)
}

func (w *window) push(artistKey string, genres []string) {
	if w.minArtistGap > 0 && artistKey != "" {
		w.artistTail = append([]string{artistKey}, w.artistTail...)
		if len(w.artistTail) > w.minArtistGap {
			w.artistTail = w.artistTail[:w.minArtistGap]
		}
	}

	if w.genreWindow <= 0 {
		return
	}
	w.genreTail = append([][]string{genres}, w.genreTail...)
	for _, genre := range genres {
		w.genreCounts[genre]++
	}
	for len(w.genreTail) > w.genreWindow {
		evicted := w.genreTail[len(w.genreTail)-1]
		w.genreTail = w.genreTail[:len(w.genreTail)-1]
		for _, genre := range evicted {
			if w.genreCounts[genre]--; w.genreCounts[genre] <= 0 {
				delete(w.genreCounts, genre)
			}
		}
	}
}

// artistEligible reports whether the artist does not appear within the last
// minArtistGap entries. Songs with no artist information are never blocked.
func (w *window) artistEligible(artistKey string) bool {
	if artistKey == "" {
		return true
	}
	for _, key := range w.artistTail {
		if key == artistKey {
			return false
		}
	}
	return true
}

// genreEligible reports whether none of the song's genres already holds at
// least maxGenreRatio of the trailing window. An empty window or an untagged
// song blocks nothing.
func (w *window) genreEligible(genres []string) bool {
	total := len(w.genreTail)
	if total == 0 || w.maxGenreRatio <= 0 {
		return true
	}
	for _, genre := range genres {
		if float64(w.genreCounts[genre])/float64(total) >= w.maxGenreRatio {
			return false
		}
	}
	return true
}
