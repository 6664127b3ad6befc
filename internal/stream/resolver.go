/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream resolves songs to playable stream URLs and caches them.
// Resolved URLs are signed and short-lived, so the cache tracks expiry and
// re-resolves before a URL goes stale.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/supermix/internal/models"
)

// Resolution is a playable stream URL with its validity window.
type Resolution struct {
	SongID    string    `json:"song_id"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mime_type,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UnavailableError reports a permanent resolution failure. Any other error
// from a Resolver is treated as transient and may be retried.
type UnavailableError struct {
	Reason     models.UnavailableReason
	Message    string
	RetryAfter time.Duration // non-zero when the upstream asked us to back off
}

func (e *UnavailableError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stream: song unavailable (%s)", e.Reason)
	}
	return fmt.Sprintf("stream: song unavailable (%s): %s", e.Reason, e.Message)
}

// AsUnavailable unwraps err as a permanent resolution failure.
func AsUnavailable(err error) (*UnavailableError, bool) {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return unavailable, true
	}
	return nil, false
}

// Resolver turns a song identifier into a stream URL.
type Resolver interface {
	Resolve(ctx context.Context, songID string) (Resolution, error)
}

// HTTPResolver calls the resolver sidecar over HTTP.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver client against baseURL.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type resolveResponse struct {
	URL        string `json:"url"`
	MimeType   string `json:"mime_type"`
	TTLSeconds int    `json:"ttl_seconds"`
	Error      string `json:"error"`
}

// Resolve fetches a stream URL. 404 and 410 map to a hard unavailable, 429 to
// a bot-detection back-off honouring Retry-After; everything else is a
// transient error.
func (r *HTTPResolver) Resolve(ctx context.Context, songID string) (Resolution, error) {
	url := fmt.Sprintf("%s/resolve/%s", r.baseURL, songID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Resolution{}, err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{}, fmt.Errorf("stream: resolver request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Resolution{}, fmt.Errorf("stream: reading resolver response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed resolveResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return Resolution{}, fmt.Errorf("stream: decoding resolver response: %w", err)
		}
		if parsed.URL == "" {
			return Resolution{}, fmt.Errorf("stream: resolver returned empty URL for %s", songID)
		}
		res := Resolution{SongID: songID, URL: parsed.URL, MimeType: parsed.MimeType}
		// Some resolvers omit the TTL; the cache applies its default then.
		if parsed.TTLSeconds > 0 {
			res.ExpiresAt = time.Now().Add(time.Duration(parsed.TTLSeconds) * time.Second)
		}
		return res, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return Resolution{}, &UnavailableError{
			Reason:  models.ReasonUnavailable,
			Message: errorMessage(body),
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		return Resolution{}, &UnavailableError{
			Reason:     models.ReasonBotDetection,
			Message:    errorMessage(body),
			RetryAfter: retryAfter(resp),
		}

	default:
		return Resolution{}, fmt.Errorf("stream: resolver returned %d for %s", resp.StatusCode, songID)
	}
}

func errorMessage(body []byte) string {
	var parsed resolveResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return ""
}

func retryAfter(resp *http.Response) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
