/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package player drives per-user playback sessions: advancing through the
// queue, resolving stream URLs, and degrading gracefully when songs fail to
// resolve. Transient failures retry in place; permanent ones quarantine the
// song and move on.
package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/models"
	"github.com/friendsincode/supermix/internal/queue"
	"github.com/friendsincode/supermix/internal/stream"
	"github.com/friendsincode/supermix/internal/telemetry"
)

// State is the playback session state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
	StateError   State = "error"
)

// ErrNothingPlayable is returned when too many songs in a row failed to
// resolve and the session gave up advancing.
var ErrNothingPlayable = errors.New("player: no playable song found")

// prefetchAhead is how many upcoming songs get their stream URLs warmed once
// playback starts.
const prefetchAhead = 3

// Status is a read-only view of a session.
type Status struct {
	State     State         `json:"state"`
	Song      *models.Song  `json:"song,omitempty"`
	StreamURL string        `json:"stream_url,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
	Position  time.Duration `json:"position"`
	LastError string        `json:"last_error,omitempty"`
}

// Session is one user's playback state machine.
type Session struct {
	userID  string
	cfg     config.PlayerConfig
	coolOff time.Duration
	queue   *queue.Manager
	cache   *stream.Cache
	store   *library.Store
	bus     events.Publisher
	logger  zerolog.Logger

	mu         sync.Mutex
	state      State
	song       *models.Song
	resolution stream.Resolution
	position   time.Duration
	lastError  string
	// generation invalidates in-flight loads: any operation that changes
	// what should be playing bumps it, and a load only commits its result
	// if the generation is still its own.
	generation uint64
}

func newSession(userID string, cfg config.PlayerConfig, coolOff time.Duration, q *queue.Manager, cache *stream.Cache, store *library.Store, bus events.Publisher, logger zerolog.Logger) *Session {
	return &Session{
		userID:  userID,
		cfg:     cfg,
		coolOff: coolOff,
		queue:   q,
		cache:   cache,
		store:   store,
		bus:     bus,
		logger:  logger.With().Str("component", "player").Str("user_id", userID).Logger(),
		state:   StateIdle,
	}
}

// Status returns the current session view.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := Status{
		State:     s.state,
		Song:      s.song,
		Position:  s.position,
		LastError: s.lastError,
	}
	if s.state == StatePlaying || s.state == StatePaused {
		status.StreamURL = s.resolution.URL
		status.ExpiresAt = s.resolution.ExpiresAt
	}
	return status
}

// Play starts playback. From paused it resumes; from playing it is a no-op;
// otherwise it advances the queue to the next playable song.
func (s *Session) Play(ctx context.Context) (Status, error) {
	s.mu.Lock()
	switch s.state {
	case StatePlaying:
		s.mu.Unlock()
		return s.Status(), nil
	case StatePaused:
		s.state = StatePlaying
		s.mu.Unlock()
		s.publishState(StatePlaying)
		return s.Status(), nil
	}
	s.mu.Unlock()

	return s.advance(ctx)
}

// Pause pauses playback. Pausing a non-playing session is a no-op.
func (s *Session) Pause() Status {
	s.mu.Lock()
	if s.state == StatePlaying {
		s.state = StatePaused
		s.mu.Unlock()
		s.publishState(StatePaused)
		return s.Status()
	}
	s.mu.Unlock()
	return s.Status()
}

// Skip records a skip on the current song and advances. A skip during loading
// supersedes the in-flight resolution.
func (s *Session) Skip(ctx context.Context) (Status, error) {
	s.mu.Lock()
	current := s.song
	s.mu.Unlock()

	if current != nil {
		if err := s.store.RecordSkip(ctx, s.userID, current.ID); err != nil {
			s.logger.Warn().Err(err).Str("song_id", current.ID).Msg("recording skip")
		}
	}
	return s.advance(ctx)
}

// TrackEnded advances after natural completion. No skip penalty applies.
func (s *Session) TrackEnded(ctx context.Context) (Status, error) {
	return s.advance(ctx)
}

// Stop returns the session to idle. The queue is untouched.
func (s *Session) Stop() Status {
	s.mu.Lock()
	s.generation++
	s.state = StateIdle
	s.song = nil
	s.resolution = stream.Resolution{}
	s.position = 0
	s.mu.Unlock()
	s.publishState(StateIdle)
	return s.Status()
}

// ReportPosition updates the playback position reported by the client.
func (s *Session) ReportPosition(position time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePlaying || s.state == StatePaused {
		s.position = position
	}
}

// advance walks the queue until a song resolves or the consecutive-failure
// bound is hit. Each permanently failing song is quarantined so the next
// generation round avoids it.
func (s *Session) advance(ctx context.Context) (Status, error) {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = StateLoading
	s.position = 0
	s.lastError = ""
	s.mu.Unlock()
	s.publishState(StateLoading)

	failures := 0
	for failures < s.cfg.MaxConsecutiveSkips {
		song, err := s.queue.Advance(ctx, s.userID)
		if err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				s.fail(gen, StateIdle, "queue exhausted")
				return s.Status(), err
			}
			s.fail(gen, StateError, err.Error())
			return s.Status(), err
		}

		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return s.Status(), nil // superseded by a newer operation
		}
		s.song = &song
		s.mu.Unlock()

		res, err := s.resolveWithRetry(ctx, song.ID)
		if err == nil {
			if s.commit(gen, song, res) {
				s.startPlayback(ctx, song)
				return s.Status(), nil
			}
			return s.Status(), nil // superseded, discard the resolution
		}
		if ctx.Err() != nil {
			s.fail(gen, StateError, ctx.Err().Error())
			return s.Status(), ctx.Err()
		}

		s.quarantine(ctx, song, err)
		failures++
	}

	// Giving up is not a terminal error: the session returns to idle so a
	// later play can try again once songs recover or the library changes.
	s.fail(gen, StateIdle, ErrNothingPlayable.Error())
	return s.Status(), ErrNothingPlayable
}

// resolveWithRetry resolves one song, retrying transient failures with a
// linear backoff. Permanent unavailability returns immediately.
func (s *Session) resolveWithRetry(ctx context.Context, songID string) (stream.Resolution, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxTrackRetries; attempt++ {
		if attempt > 0 {
			telemetry.PlayerRetriesTotal.Inc()
			select {
			case <-time.After(time.Duration(attempt) * s.cfg.RetryBackoff):
			case <-ctx.Done():
				return stream.Resolution{}, ctx.Err()
			}
		}

		res, err := s.cache.Get(ctx, songID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if _, permanent := stream.AsUnavailable(err); permanent {
			return stream.Resolution{}, err
		}
		if ctx.Err() != nil {
			return stream.Resolution{}, ctx.Err()
		}
		s.logger.Debug().Err(err).Str("song_id", songID).Int("attempt", attempt+1).Msg("transient resolution failure")
	}
	return stream.Resolution{}, lastErr
}

// commit transitions to playing if the load was not superseded.
func (s *Session) commit(gen uint64, song models.Song, res stream.Resolution) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return false
	}
	s.state = StatePlaying
	s.song = &song
	s.resolution = res
	s.position = 0
	s.mu.Unlock()
	return true
}

// startPlayback records the confirmed play, announces it, and warms the
// stream cache for the next few songs.
func (s *Session) startPlayback(ctx context.Context, song models.Song) {
	if err := s.store.RecordPlay(ctx, s.userID, &song); err != nil {
		s.logger.Warn().Err(err).Str("song_id", song.ID).Msg("recording play")
	}

	s.bus.Publish(events.EventNowPlaying, events.Payload{
		"user_id": s.userID,
		"song_id": song.ID,
		"title":   song.Title,
		"artist":  song.Artist,
	})
	s.publishState(StatePlaying)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		snap, err := s.queue.Snapshot(ctx, s.userID)
		if err != nil {
			return
		}
		ahead := snap.Upcoming
		if len(ahead) > prefetchAhead {
			ahead = ahead[:prefetchAhead]
		}
		ids := make([]string, 0, len(ahead))
		for _, upcoming := range ahead {
			ids = append(ids, upcoming.ID)
		}
		s.cache.Prefetch(ctx, ids)
	}()
}

// quarantine marks a song unavailable after resolution gave up on it.
func (s *Session) quarantine(ctx context.Context, song models.Song, cause error) {
	reason := models.ReasonOther
	message := cause.Error()
	coolOff := s.coolOff

	if unavailable, ok := stream.AsUnavailable(cause); ok {
		reason = unavailable.Reason
		message = unavailable.Message
		if unavailable.RetryAfter > 0 {
			coolOff = unavailable.RetryAfter
		}
	}

	if err := s.store.MarkUnavailable(ctx, song.ID, reason, message, coolOff); err != nil {
		s.logger.Error().Err(err).Str("song_id", song.ID).Msg("quarantining song")
	}
	telemetry.PlayerQuarantinesTotal.WithLabelValues(string(reason)).Inc()

	s.logger.Warn().
		Str("song_id", song.ID).
		Str("reason", string(reason)).
		Msg("song unavailable, advancing")
	s.bus.Publish(events.EventTrackUnavailable, events.Payload{
		"user_id": s.userID,
		"song_id": song.ID,
		"reason":  string(reason),
	})
}

// fail ends the advance in the given state unless superseded.
func (s *Session) fail(gen uint64, state State, message string) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.song = nil
	s.resolution = stream.Resolution{}
	s.lastError = message
	s.mu.Unlock()
	s.publishState(state)
}

func (s *Session) publishState(state State) {
	s.bus.Publish(events.EventPlaybackState, events.Payload{
		"user_id": s.userID,
		"state":   string(state),
	})
}
