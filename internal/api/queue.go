/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/supermix/internal/auth"
	"github.com/friendsincode/supermix/internal/models"
	"github.com/friendsincode/supermix/internal/queue"
)

type queueResponse struct {
	Current  *models.Song  `json:"current,omitempty"`
	Upcoming []models.Song `json:"upcoming"`
	History  []models.Song `json:"history"`
}

func queueResponseFrom(snap queue.Snapshot) queueResponse {
	resp := queueResponse{
		Current:  snap.Current,
		Upcoming: snap.Upcoming,
		History:  snap.History,
	}
	if resp.Upcoming == nil {
		resp.Upcoming = []models.Song{}
	}
	if resp.History == nil {
		resp.History = []models.Song{}
	}
	return resp
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	snap, err := a.queue.Snapshot(r.Context(), userID)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("loading queue")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, queueResponseFrom(snap))
}

// handleQueueAdvance pops the queue head without starting playback, for
// clients that drive the queue directly instead of through the player.
func (a *API) handleQueueAdvance(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	song, err := a.queue.Advance(r.Context(), userID)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			writeJSON(w, http.StatusOK, map[string]any{"song": nil})
			return
		}
		a.logger.Error().Err(err).Str("user_id", userID).Msg("advancing queue")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"song": song})
}

func (a *API) handleQueueRegenerate(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	snap, err := a.queue.Regenerate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			writeError(w, http.StatusConflict, "library_empty")
			return
		}
		a.logger.Error().Err(err).Str("user_id", userID).Msg("regenerating queue")
		writeError(w, http.StatusInternalServerError, "queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, queueResponseFrom(snap))
}

func (a *API) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	a.queue.Clear(auth.UserID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	songID := chi.URLParam(r, "songID")
	if songID == "" {
		writeError(w, http.StatusBadRequest, "missing_song_id")
		return
	}
	a.queue.Remove(auth.UserID(r.Context()), songID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	plays, err := a.store.RecentPlays(r.Context(), userID, 50)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("loading history")
		writeError(w, http.StatusInternalServerError, "history_unavailable")
		return
	}
	if plays == nil {
		plays = []models.PlayHistory{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"plays": plays})
}
