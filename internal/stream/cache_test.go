/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/supermix/internal/models"
)

type fakeResolver struct {
	mu      sync.Mutex
	calls   atomic.Int64
	ttl     time.Duration
	failure error
	delay   time.Duration
}

func (f *fakeResolver) Resolve(ctx context.Context, songID string) (Resolution, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Resolution{}, ctx.Err()
		}
	}
	f.mu.Lock()
	failure := f.failure
	ttl := f.ttl
	f.mu.Unlock()
	if failure != nil {
		return Resolution{}, failure
	}
	res := Resolution{
		SongID: songID,
		URL:    fmt.Sprintf("https://cdn.example/%s?n=%d", songID, f.calls.Load()),
	}
	if ttl > 0 {
		res.ExpiresAt = time.Now().Add(ttl)
	}
	return res, nil
}

func (f *fakeResolver) setFailure(err error) {
	f.mu.Lock()
	f.failure = err
	f.mu.Unlock()
}

func TestCacheReusesFreshEntry(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Hour}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	first, err := cache.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if first.URL != second.URL {
		t.Fatal("fresh entry should be served from cache")
	}
	if resolver.calls.Load() != 1 {
		t.Fatalf("expected 1 resolver call, got %d", resolver.calls.Load())
	}
}

func TestCacheReresolvesNearExpiry(t *testing.T) {
	// TTL inside the expiry buffer: the entry is stale from the start.
	resolver := &fakeResolver{ttl: expiryBuffer / 2}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if resolver.calls.Load() != 2 {
		t.Fatalf("expected re-resolution of a near-expiry entry, got %d calls", resolver.calls.Load())
	}
}

func TestCacheAppliesDefaultTTL(t *testing.T) {
	resolver := &fakeResolver{} // no TTL from upstream
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())

	res, err := cache.Get(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	remaining := time.Until(res.ExpiresAt)
	if remaining < time.Hour || remaining > 2*time.Hour {
		t.Fatalf("expected default TTL of ~2h, got %v", remaining)
	}
}

func TestCacheDeduplicatesConcurrentLookups(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Hour, delay: 50 * time.Millisecond}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())

	const workers = 16
	urls := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := cache.Get(context.Background(), "s1")
			if err != nil {
				t.Error(err)
				return
			}
			urls[i] = res.URL
		}(i)
	}
	wg.Wait()

	if calls := resolver.calls.Load(); calls != 1 {
		t.Fatalf("expected a single resolver call for %d concurrent lookups, got %d", workers, calls)
	}
	for _, url := range urls {
		if url != urls[0] {
			t.Fatal("concurrent callers received different resolutions")
		}
	}
}

func TestCachePropagatesUnavailable(t *testing.T) {
	resolver := &fakeResolver{}
	resolver.setFailure(&UnavailableError{Reason: models.ReasonUnavailable, Message: "gone"})
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())

	_, err := cache.Get(context.Background(), "s1")
	unavailable, ok := AsUnavailable(err)
	if !ok {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if unavailable.Reason != models.ReasonUnavailable {
		t.Fatalf("unexpected reason %q", unavailable.Reason)
	}
}

func TestCacheErrorsAreNotCached(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Hour}
	resolver.setFailure(errors.New("upstream 503"))
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := cache.Get(ctx, "s1"); err == nil {
		t.Fatal("expected transient error")
	}

	resolver.setFailure(nil)
	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatalf("recovery lookup failed: %v", err)
	}
	if resolver.calls.Load() != 2 {
		t.Fatalf("expected 2 resolver calls, got %d", resolver.calls.Load())
	}
}

func TestCacheInvalidate(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Hour}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate(ctx, "s1")
	if _, err := cache.Get(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if resolver.calls.Load() != 2 {
		t.Fatalf("expected re-resolution after invalidate, got %d calls", resolver.calls.Load())
	}
}

func TestCachePrefetchWarmsEntries(t *testing.T) {
	resolver := &fakeResolver{ttl: time.Hour}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())
	ctx := context.Background()

	cache.Prefetch(ctx, []string{"s1", "s2", "s3"})
	if resolver.calls.Load() != 3 {
		t.Fatalf("expected 3 resolutions, got %d", resolver.calls.Load())
	}

	// All warm now.
	for _, songID := range []string{"s1", "s2", "s3"} {
		if _, err := cache.Get(ctx, songID); err != nil {
			t.Fatal(err)
		}
	}
	if resolver.calls.Load() != 3 {
		t.Fatalf("prefetched entries should be cache hits, got %d calls", resolver.calls.Load())
	}
}

func TestCacheSweep(t *testing.T) {
	resolver := &fakeResolver{ttl: expiryBuffer / 2}
	cache := NewCache(resolver, 2*time.Hour, nil, zerolog.Nop())

	if _, err := cache.Get(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	if removed := cache.Sweep(); removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
}
