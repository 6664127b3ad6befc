/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/supermix/internal/telemetry"
)

// expiryBuffer keeps us from handing out a URL that expires mid-playback: a
// cached entry counts as stale this long before its actual expiry.
const expiryBuffer = 5 * time.Minute

const redisKeyPrefix = "supermix:stream:"

// prefetchWorkers bounds concurrent resolver calls during a warm-up round.
const prefetchWorkers = 4

// Cache is a read-through cache in front of a Resolver. Lookups for the same
// song are deduplicated so a burst of requests triggers one upstream call.
// Redis is an optional second level shared between instances; when it is
// absent or failing the cache degrades to local-only.
type Cache struct {
	resolver Resolver
	ttl      time.Duration
	redis    *redis.Client
	logger   zerolog.Logger

	flight singleflight.Group

	mu    sync.RWMutex
	local map[string]Resolution
}

// NewCache creates a stream URL cache. redisClient may be nil.
func NewCache(resolver Resolver, ttl time.Duration, redisClient *redis.Client, logger zerolog.Logger) *Cache {
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		redis:    redisClient,
		logger:   logger.With().Str("component", "stream-cache").Logger(),
		local:    make(map[string]Resolution),
	}
}

// Get returns a fresh stream URL for the song, resolving on miss. Concurrent
// callers for the same song share a single resolver call and its result,
// including any error.
func (c *Cache) Get(ctx context.Context, songID string) (Resolution, error) {
	if res, ok := c.lookup(ctx, songID); ok {
		telemetry.ResolveTotal.WithLabelValues("hit").Inc()
		return res, nil
	}

	value, err, _ := c.flight.Do(songID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have just
		// populated the entry.
		if res, ok := c.lookup(ctx, songID); ok {
			return res, nil
		}
		return c.resolve(ctx, songID)
	})
	if err != nil {
		return Resolution{}, err
	}
	return value.(Resolution), nil
}

func (c *Cache) resolve(ctx context.Context, songID string) (Resolution, error) {
	start := time.Now()
	res, err := c.resolver.Resolve(ctx, songID)
	telemetry.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if _, ok := AsUnavailable(err); ok {
			telemetry.ResolveTotal.WithLabelValues("unavailable").Inc()
		} else {
			telemetry.ResolveTotal.WithLabelValues("error").Inc()
		}
		return Resolution{}, err
	}
	telemetry.ResolveTotal.WithLabelValues("miss").Inc()

	if res.ExpiresAt.IsZero() {
		res.ExpiresAt = time.Now().Add(c.ttl)
	}
	c.put(ctx, res)
	return res, nil
}

// lookup checks the local map first, then Redis. A Redis hit is promoted into
// the local map.
func (c *Cache) lookup(ctx context.Context, songID string) (Resolution, bool) {
	c.mu.RLock()
	res, ok := c.local[songID]
	c.mu.RUnlock()
	if ok && fresh(res) {
		return res, true
	}

	if c.redis == nil {
		return Resolution{}, false
	}
	raw, err := c.redis.Get(ctx, redisKeyPrefix+songID).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Msg("redis lookup failed, falling back to resolver")
		}
		return Resolution{}, false
	}
	if err := json.Unmarshal(raw, &res); err != nil || !fresh(res) {
		return Resolution{}, false
	}

	c.mu.Lock()
	c.local[songID] = res
	c.mu.Unlock()
	return res, true
}

func (c *Cache) put(ctx context.Context, res Resolution) {
	c.mu.Lock()
	c.local[res.SongID] = res
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	ttl := time.Until(res.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+res.SongID, raw, ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("redis store failed, entry kept locally")
	}
}

// Invalidate drops a cached entry, e.g. after a player reported the URL dead.
func (c *Cache) Invalidate(ctx context.Context, songID string) {
	c.mu.Lock()
	delete(c.local, songID)
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKeyPrefix+songID).Err(); err != nil {
			c.logger.Debug().Err(err).Msg("redis invalidate failed")
		}
	}
}

// Prefetch warms the cache for upcoming songs. Failures are logged and do not
// abort the round; a song that cannot be resolved now will be retried when it
// reaches the head of the queue.
func (c *Cache) Prefetch(ctx context.Context, songIDs []string) {
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(prefetchWorkers)
	for _, songID := range songIDs {
		songID := songID
		group.Go(func() error {
			if _, err := c.Get(ctx, songID); err != nil {
				c.logger.Debug().Err(err).Str("song_id", songID).Msg("prefetch resolution failed")
			}
			return nil
		})
	}
	group.Wait()
}

// Sweep removes expired local entries. Redis entries expire on their own.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for songID, res := range c.local {
		if !fresh(res) {
			delete(c.local, songID)
			removed++
		}
	}
	return removed
}

func fresh(res Resolution) bool {
	return time.Now().Before(res.ExpiresAt.Add(-expiryBuffer))
}
