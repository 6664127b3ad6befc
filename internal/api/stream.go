/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/models"
	"github.com/friendsincode/supermix/internal/stream"
)

// handleSongStream resolves a song to a playable URL on demand, for clients
// that manage playback themselves rather than through the player session.
func (a *API) handleSongStream(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songID")

	if _, err := a.store.GetSong(r.Context(), songID); err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown_song")
			return
		}
		writeError(w, http.StatusInternalServerError, "library_unavailable")
		return
	}

	quarantined, err := a.store.IsUnavailable(r.Context(), songID)
	if err != nil {
		a.logger.Error().Err(err).Str("song_id", songID).Msg("checking quarantine")
		writeError(w, http.StatusInternalServerError, "library_unavailable")
		return
	}
	if quarantined {
		writeError(w, http.StatusGone, "song_unavailable")
		return
	}

	res, err := a.cache.Get(r.Context(), songID)
	if err != nil {
		if unavailable, ok := stream.AsUnavailable(err); ok {
			writeJSON(w, http.StatusGone, map[string]string{
				"error":  "song_unavailable",
				"reason": string(unavailable.Reason),
			})
			return
		}
		a.logger.Error().Err(err).Str("song_id", songID).Msg("resolving stream")
		writeError(w, http.StatusBadGateway, "resolver_error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleUnavailable lists currently quarantined songs.
func (a *API) handleUnavailable(w http.ResponseWriter, r *http.Request) {
	entries, err := a.store.ListUnavailable(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("listing quarantined songs")
		writeError(w, http.StatusInternalServerError, "library_unavailable")
		return
	}
	if entries == nil {
		entries = []models.UnavailableTrack{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"unavailable": entries})
}
