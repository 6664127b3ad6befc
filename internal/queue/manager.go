/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue maintains per-user playback queues: a current song, a
// prefetched upcoming list, and a bounded history. Refills run the selector
// against the user's library and are deduplicated so concurrent triggers
// produce a single generation round.
package queue

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/models"
	"github.com/friendsincode/supermix/internal/selector"
	"github.com/friendsincode/supermix/internal/telemetry"
)

// ErrEmpty is returned by Advance when the upcoming queue is exhausted and a
// refill produced nothing, either because the library is empty or every
// candidate is disliked or quarantined.
var ErrEmpty = errors.New("queue: no playable songs available")

// Snapshot is a read-only view of one user's queue.
type Snapshot struct {
	Current  *models.Song
	Upcoming []models.Song
	History  []models.Song
}

type userQueue struct {
	mu       sync.Mutex
	current  *models.Song
	upcoming []models.Song
	history  []models.Song // newest first
}

// Manager owns all per-user queues.
type Manager struct {
	cfg    config.QueueConfig
	store  *library.Store
	engine *selector.Engine
	bus    events.Publisher
	logger zerolog.Logger

	refills singleflight.Group

	mu     sync.Mutex
	queues map[string]*userQueue

	// newRand is swapped in tests for deterministic selection.
	newRand func() selector.Rand
}

// NewManager creates a queue manager.
func NewManager(cfg config.QueueConfig, store *library.Store, engine *selector.Engine, bus events.Publisher, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		store:  store,
		engine: engine,
		bus:    bus,
		logger: logger.With().Str("component", "queue").Logger(),
		queues: make(map[string]*userQueue),
		newRand: func() selector.Rand {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
	}
}

func (m *Manager) queueFor(userID string) *userQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[userID]
	if !ok {
		q = &userQueue{}
		m.queues[userID] = q
	}
	return q
}

// Snapshot returns the user's queue, filling it first when empty.
func (m *Manager) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	q := m.queueFor(userID)

	q.mu.Lock()
	empty := len(q.upcoming) == 0
	q.mu.Unlock()

	if empty {
		if err := m.refill(ctx, userID, "empty"); err != nil {
			return Snapshot{}, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		Current:  q.current,
		Upcoming: append([]models.Song(nil), q.upcoming...),
		History:  append([]models.Song(nil), q.history...),
	}, nil
}

// Current returns the song playing now, or nil.
func (m *Manager) Current(userID string) *models.Song {
	q := m.queueFor(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Advance moves the queue forward one song and returns the new current song.
// The outgoing current song goes to the front of the history. When the
// upcoming list runs dry the refill happens inline; ErrEmpty is returned only
// after that refill produced nothing.
func (m *Manager) Advance(ctx context.Context, userID string) (models.Song, error) {
	q := m.queueFor(userID)

	song, depth, ok := q.pop(m.cfg.HistorySize)
	if !ok {
		if err := m.refill(ctx, userID, "empty"); err != nil {
			return models.Song{}, err
		}
		if song, depth, ok = q.pop(m.cfg.HistorySize); !ok {
			telemetry.QueueEmptyTotal.Inc()
			m.bus.Publish(events.EventQueueEmpty, events.Payload{"user_id": userID})
			return models.Song{}, ErrEmpty
		}
	}

	telemetry.QueueDepth.WithLabelValues(userID).Set(float64(depth))
	if depth < m.cfg.LowWatermark() {
		m.refillAsync(userID)
	}
	return song, nil
}

// pop shifts the head of upcoming into current and pushes the old current
// onto the history. Returns the new current song and the remaining depth.
func (q *userQueue) pop(historySize int) (models.Song, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.upcoming) == 0 {
		return models.Song{}, 0, false
	}
	if q.current != nil {
		q.history = append([]models.Song{*q.current}, q.history...)
		if historySize > 0 && len(q.history) > historySize {
			q.history = q.history[:historySize]
		}
	}
	next := q.upcoming[0]
	q.upcoming = q.upcoming[1:]
	q.current = &next
	return next, len(q.upcoming), true
}

// Regenerate discards the upcoming list and builds a fresh one. The current
// song and history are kept.
func (m *Manager) Regenerate(ctx context.Context, userID string) (Snapshot, error) {
	q := m.queueFor(userID)
	q.mu.Lock()
	q.upcoming = nil
	q.mu.Unlock()

	if err := m.refill(ctx, userID, "regenerate"); err != nil {
		return Snapshot{}, err
	}
	return m.Snapshot(ctx, userID)
}

// Clear drops the upcoming list and the current song. History survives so the
// next generation round still honours diversity against recent plays.
func (m *Manager) Clear(userID string) {
	q := m.queueFor(userID)
	q.mu.Lock()
	q.upcoming = nil
	q.current = nil
	q.mu.Unlock()
	telemetry.QueueDepth.WithLabelValues(userID).Set(0)
}

// Remove deletes a song from the upcoming list, e.g. after a dislike or a
// quarantine. The current song is untouched.
func (m *Manager) Remove(userID, songID string) {
	q := m.queueFor(userID)
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.upcoming[:0]
	for _, song := range q.upcoming {
		if song.ID != songID {
			kept = append(kept, song)
		}
	}
	q.upcoming = kept
	telemetry.QueueDepth.WithLabelValues(userID).Set(float64(len(kept)))
}

// EnsureFilled tops the queue up to the prefetch size when it sits below the
// low watermark. Safe to call often; concurrent calls coalesce.
func (m *Manager) EnsureFilled(ctx context.Context, userID string) error {
	q := m.queueFor(userID)
	q.mu.Lock()
	depth := len(q.upcoming)
	q.mu.Unlock()
	if depth >= m.cfg.LowWatermark() {
		return nil
	}
	return m.refill(ctx, userID, "watermark")
}

func (m *Manager) refillAsync(userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.refill(ctx, userID, "watermark"); err != nil {
			m.logger.Error().Err(err).Str("user_id", userID).Msg("background refill failed")
		}
	}()
}

// refill generates songs until the queue reaches the prefetch size. The
// singleflight group keys by user so overlapping triggers (watermark crossing,
// API prefetch, WebSocket reconnect) share one generation round.
func (m *Manager) refill(ctx context.Context, userID, trigger string) error {
	_, err, _ := m.refills.Do(userID, func() (any, error) {
		return nil, m.generate(ctx, userID, trigger)
	})
	return err
}

func (m *Manager) generate(ctx context.Context, userID, trigger string) error {
	ctx, span := telemetry.StartSpan(ctx, "queue", "queue.generate")
	defer span.End()

	q := m.queueFor(userID)

	q.mu.Lock()
	need := m.cfg.PrefetchSize - len(q.upcoming)
	planned := make(map[string]bool, len(q.upcoming)+1)
	for _, song := range q.upcoming {
		planned[song.ID] = true
	}
	if q.current != nil {
		planned[q.current.ID] = true
	}
	recent := m.recentContext(q)
	q.mu.Unlock()

	if need <= 0 {
		return nil
	}

	// Played songs come from the persisted history rather than the in-memory
	// view, so constraints stay honest across restarts.
	if plays, err := m.store.RecentPlays(ctx, userID, m.cfg.HistorySize); err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("loading play history for constraint context")
	} else {
		recent = append(recent, selector.RecentFromHistory(plays)...)
	}

	pool, err := m.store.ListCandidates(ctx, userID)
	if err != nil {
		return err
	}
	// Skip songs already planned so a refill never duplicates the queue.
	filtered := pool[:0]
	for _, entry := range pool {
		if !planned[entry.SongID] {
			filtered = append(filtered, entry)
		}
	}

	batch := m.engine.SelectBatch(filtered, recent, need, time.Now(), m.newRand())
	if batch.RelaxedGenre {
		telemetry.SelectorRelaxationsTotal.WithLabelValues("genre").Inc()
	}
	if batch.RelaxedArtist {
		telemetry.SelectorRelaxationsTotal.WithLabelValues("artist").Inc()
	}

	q.mu.Lock()
	q.upcoming = append(q.upcoming, batch.Songs...)
	depth := len(q.upcoming)
	q.mu.Unlock()

	telemetry.QueueDepth.WithLabelValues(userID).Set(float64(depth))
	telemetry.QueueRefillsTotal.WithLabelValues(trigger).Inc()

	if len(batch.Songs) > 0 {
		m.logger.Debug().
			Str("user_id", userID).
			Str("trigger", trigger).
			Int("added", len(batch.Songs)).
			Int("discovery", batch.DiscoveryCount).
			Int("depth", depth).
			Msg("queue refilled")
		m.bus.Publish(events.EventQueueRefilled, events.Payload{
			"user_id":   userID,
			"added":     len(batch.Songs),
			"discovery": batch.DiscoveryCount,
			"depth":     depth,
		})
	}
	return nil
}

// recentContext builds the planned part of the constraint context, newest
// first: the tail of the upcoming queue, then the current song. The persisted
// play history is appended by the caller. Caller holds q.mu.
func (m *Manager) recentContext(q *userQueue) []selector.Recent {
	recent := make([]selector.Recent, 0, len(q.upcoming)+1)
	for i := len(q.upcoming) - 1; i >= 0; i-- {
		song := q.upcoming[i]
		recent = append(recent, selector.Recent{SongID: song.ID, ArtistKey: song.ArtistKey(), Genres: song.Genres})
	}
	if q.current != nil {
		recent = append(recent, selector.Recent{SongID: q.current.ID, ArtistKey: q.current.ArtistKey(), Genres: q.current.Genres})
	}
	return recent
}
