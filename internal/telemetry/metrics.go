/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes Prometheus metrics and the tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// APIRequestsTotal counts HTTP requests by method, route, and status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests processed.",
	}, []string{"method", "endpoint", "status"})

	// APIRequestDuration observes request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "supermix",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections gauges open WebSocket connections.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "supermix",
		Subsystem: "api",
		Name:      "active_connections",
		Help:      "Open WebSocket event connections.",
	})

	// QueueDepth gauges the upcoming-queue length per user.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "supermix",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Songs remaining in the upcoming queue.",
	}, []string{"user"})

	// QueueRefillsTotal counts refill rounds by trigger.
	QueueRefillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "queue",
		Name:      "refills_total",
		Help:      "Queue refill rounds, by trigger (watermark, empty, regenerate).",
	}, []string{"trigger"})

	// QueueEmptyTotal counts advances that found nothing to play.
	QueueEmptyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "queue",
		Name:      "empty_total",
		Help:      "Queue advances that found the candidate pool exhausted.",
	})

	// SelectorRelaxationsTotal counts batches that needed constraint relaxation.
	SelectorRelaxationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "selector",
		Name:      "relaxations_total",
		Help:      "Selection batches that relaxed a diversity constraint.",
	}, []string{"constraint"})

	// ResolveTotal counts stream resolutions by outcome.
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "stream",
		Name:      "resolve_total",
		Help:      "Stream URL resolutions, by outcome (hit, miss, error, unavailable).",
	}, []string{"outcome"})

	// ResolveDuration observes resolver round-trip latency.
	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "supermix",
		Subsystem: "stream",
		Name:      "resolve_duration_seconds",
		Help:      "Upstream resolver latency for cache misses.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// PlayerRetriesTotal counts in-place retries of a failing song.
	PlayerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "player",
		Name:      "retries_total",
		Help:      "Retries of the same song after a transient resolution failure.",
	})

	// PlayerQuarantinesTotal counts songs marked unavailable by reason.
	PlayerQuarantinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supermix",
		Subsystem: "player",
		Name:      "quarantines_total",
		Help:      "Songs quarantined after resolution failures, by reason.",
	}, []string{"reason"})
)
