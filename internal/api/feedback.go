/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/supermix/internal/auth"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/models"
)

type feedbackRequest struct {
	Feedback models.Feedback `json:"feedback"`
}

func (a *API) handleFeedbackSet(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	songID := chi.URLParam(r, "songID")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if req.Feedback != models.FeedbackLike && req.Feedback != models.FeedbackDislike {
		writeError(w, http.StatusBadRequest, "invalid_feedback")
		return
	}

	if err := a.store.SetFeedback(r.Context(), userID, songID, req.Feedback); err != nil {
		a.logger.Error().Err(err).Str("song_id", songID).Msg("setting feedback")
		writeError(w, http.StatusInternalServerError, "feedback_failed")
		return
	}

	// A dislike takes effect immediately: the song leaves the planned queue
	// rather than waiting for the next generation round.
	if req.Feedback == models.FeedbackDislike {
		a.queue.Remove(userID, songID)
	}

	a.bus.Publish(events.EventFeedback, events.Payload{
		"user_id":  userID,
		"song_id":  songID,
		"feedback": string(req.Feedback),
	})

	writeJSON(w, http.StatusOK, map[string]string{"song_id": songID, "feedback": string(req.Feedback)})
}

func (a *API) handleFeedbackClear(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	songID := chi.URLParam(r, "songID")

	err := a.store.ClearFeedback(r.Context(), userID, songID)
	if errors.Is(err, library.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("song_id", songID).Msg("clearing feedback")
		writeError(w, http.StatusInternalServerError, "feedback_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFeedbackStats(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	stats, err := a.store.GetFeedbackStats(r.Context(), userID)
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("loading feedback stats")
		writeError(w, http.StatusInternalServerError, "stats_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
