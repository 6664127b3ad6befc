/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package player

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/queue"
	"github.com/friendsincode/supermix/internal/stream"
)

// Registry hands out one Session per user. Sessions are created lazily and
// live for the process lifetime; client reconnects pick up where they left off.
type Registry struct {
	cfg     config.PlayerConfig
	coolOff time.Duration
	queue   *queue.Manager
	cache   *stream.Cache
	store   *library.Store
	bus     events.Publisher
	logger  zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry.
func NewRegistry(cfg config.PlayerConfig, coolOff time.Duration, q *queue.Manager, cache *stream.Cache, store *library.Store, bus events.Publisher, logger zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		coolOff:  coolOff,
		queue:    q,
		cache:    cache,
		store:    store,
		bus:      bus,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating it on first use.
func (r *Registry) Session(userID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[userID]
	if !ok {
		session = newSession(userID, r.cfg, r.coolOff, r.queue, r.cache, r.store, r.bus, r.logger)
		r.sessions[userID] = session
	}
	return session
}
