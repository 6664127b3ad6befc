/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: queue, player, feedback, and stream
// endpoints plus the events WebSocket.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/auth"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/player"
	"github.com/friendsincode/supermix/internal/queue"
	"github.com/friendsincode/supermix/internal/stream"
)

// EventBus is the event surface the API needs. Both the in-process bus and
// the Redis-backed bus satisfy it.
type EventBus interface {
	Subscribe(events.EventType) events.Subscriber
	Unsubscribe(events.EventType, events.Subscriber)
	Publish(events.EventType, events.Payload)
}

// API exposes HTTP handlers.
type API struct {
	jwtSecret []byte
	store     *library.Store
	queue     *queue.Manager
	players   *player.Registry
	cache     *stream.Cache
	bus       EventBus
	logger    zerolog.Logger
}

// New creates the API.
func New(jwtSecret []byte, store *library.Store, queueMgr *queue.Manager, players *player.Registry, cache *stream.Cache, bus EventBus, logger zerolog.Logger) *API {
	return &API{
		jwtSecret: jwtSecret,
		store:     store,
		queue:     queueMgr,
		players:   players,
		cache:     cache,
		bus:       bus,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Route("/queue", func(r chi.Router) {
				r.Get("/", a.handleQueueGet)
				r.Post("/advance", a.handleQueueAdvance)
				r.Post("/regenerate", a.handleQueueRegenerate)
				r.Delete("/", a.handleQueueClear)
				r.Delete("/{songID}", a.handleQueueRemove)
			})

			pr.Route("/player", func(r chi.Router) {
				r.Get("/", a.handlePlayerStatus)
				r.Post("/play", a.handlePlayerPlay)
				r.Post("/pause", a.handlePlayerPause)
				r.Post("/skip", a.handlePlayerSkip)
				r.Post("/ended", a.handlePlayerEnded)
				r.Post("/stop", a.handlePlayerStop)
				r.Post("/position", a.handlePlayerPosition)
			})

			pr.Route("/songs/{songID}", func(r chi.Router) {
				r.Get("/stream", a.handleSongStream)
				r.Put("/feedback", a.handleFeedbackSet)
				r.Delete("/feedback", a.handleFeedbackClear)
			})

			pr.Get("/feedback/stats", a.handleFeedbackStats)
			pr.Get("/unavailable", a.handleUnavailable)
			pr.Get("/history", a.handleHistory)
			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
