/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/friendsincode/supermix/internal/auth"
	"github.com/friendsincode/supermix/internal/player"
	"github.com/friendsincode/supermix/internal/queue"
)

func (a *API) handlePlayerStatus(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, session.Status())
}

func (a *API) handlePlayerPlay(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	status, err := session.Play(r.Context())
	a.writePlayerResult(w, status, err)
}

func (a *API) handlePlayerPause(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, session.Pause())
}

func (a *API) handlePlayerSkip(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	status, err := session.Skip(r.Context())
	a.writePlayerResult(w, status, err)
}

func (a *API) handlePlayerEnded(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	status, err := session.TrackEnded(r.Context())
	a.writePlayerResult(w, status, err)
}

func (a *API) handlePlayerStop(w http.ResponseWriter, r *http.Request) {
	session := a.players.Session(auth.UserID(r.Context()))
	writeJSON(w, http.StatusOK, session.Stop())
}

type positionRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
}

func (a *API) handlePlayerPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_position")
		return
	}

	session := a.players.Session(auth.UserID(r.Context()))
	session.ReportPosition(time.Duration(req.PositionSeconds * float64(time.Second)))
	w.WriteHeader(http.StatusNoContent)
}

// writePlayerResult maps session outcomes onto status codes. An exhausted
// queue or an unplayable stretch is the client's problem to present, not a
// server fault, so both come back as 409 with the session state attached.
func (a *API) writePlayerResult(w http.ResponseWriter, status player.Status, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, status)
	case errors.Is(err, queue.ErrEmpty), errors.Is(err, player.ErrNothingPlayable):
		writeJSON(w, http.StatusConflict, status)
	default:
		a.logger.Error().Err(err).Msg("player operation failed")
		writeError(w, http.StatusInternalServerError, "player_error")
	}
}
