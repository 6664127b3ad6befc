/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// QueueConfig groups the tunables of the queue generation algorithm.
type QueueConfig struct {
	PrefetchSize       int           // songs generated per batch
	MinArtistGap       int           // songs between plays of the same artist
	MaxGenreRatio      float64       // max share of any genre over the trailing window
	GenreWindow        int           // trailing window size for genre-ratio evaluation
	DiscoveryRatio     float64       // target fraction of discovery songs per batch
	DiscoveryStaleness time.Duration // last-played age beyond which a song counts as discovery
	LikeBoost          float64       // weight multiplier for liked songs
	HistorySize        int           // recently played songs retained for constraint context
}

// PlayerConfig groups playback session retry behaviour.
type PlayerConfig struct {
	MaxTrackRetries     int           // attempts on the same song before quarantining it
	MaxConsecutiveSkips int           // failed songs skipped in a row before giving up
	RetryBackoff        time.Duration // delay between attempts on the same song
}

// StreamConfig groups stream resolution settings.
type StreamConfig struct {
	ResolverURL        string        // base URL of the stream resolver endpoint
	ResolveTimeout     time.Duration // bound on a single resolver call
	CacheTTL           time.Duration // lifetime of a resolved URL
	UnavailableCooloff time.Duration // quarantine duration for permanently failed songs
}

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	Queue  QueueConfig
	Player PlayerConfig
	Stream StreamConfig

	// Redis is optional; when set it backs the stream URL cache and the
	// distributed event bus.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnv("SUPERMIX_ENV", "development"),
		HTTPBind:      getEnv("SUPERMIX_HTTP_BIND", "0.0.0.0"),
		HTTPPort:      getEnvInt("SUPERMIX_HTTP_PORT", 8080),
		DBBackend:     DatabaseBackend(getEnv("SUPERMIX_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:         getEnv("SUPERMIX_DB_DSN", "supermix.db"),
		JWTSigningKey: getEnv("SUPERMIX_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("SUPERMIX_METRICS_BIND", "127.0.0.1:9000"),

		Queue: QueueConfig{
			PrefetchSize:       getEnvInt("SUPERMIX_QUEUE_PREFETCH_SIZE", 20),
			MinArtistGap:       getEnvInt("SUPERMIX_MIN_ARTIST_GAP", 5),
			MaxGenreRatio:      getEnvFloat("SUPERMIX_MAX_GENRE_RATIO", 0.4),
			GenreWindow:        getEnvInt("SUPERMIX_GENRE_WINDOW", 20),
			DiscoveryRatio:     getEnvFloat("SUPERMIX_DISCOVERY_RATIO", 0.25),
			DiscoveryStaleness: time.Duration(getEnvInt("SUPERMIX_DISCOVERY_STALENESS_DAYS", 30)) * 24 * time.Hour,
			LikeBoost:          getEnvFloat("SUPERMIX_LIKE_BOOST", 2.0),
			HistorySize:        getEnvInt("SUPERMIX_HISTORY_SIZE", 50),
		},
		Player: PlayerConfig{
			MaxTrackRetries:     getEnvInt("SUPERMIX_MAX_TRACK_RETRIES", 3),
			MaxConsecutiveSkips: getEnvInt("SUPERMIX_MAX_CONSECUTIVE_SKIPS", 10),
			RetryBackoff:        time.Duration(getEnvInt("SUPERMIX_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		},
		Stream: StreamConfig{
			ResolverURL:        getEnv("SUPERMIX_RESOLVER_URL", "http://localhost:8090"),
			ResolveTimeout:     time.Duration(getEnvInt("SUPERMIX_RESOLVE_TIMEOUT_SECONDS", 30)) * time.Second,
			CacheTTL:           time.Duration(getEnvInt("SUPERMIX_STREAM_CACHE_HOURS", 2)) * time.Hour,
			UnavailableCooloff: time.Duration(getEnvInt("SUPERMIX_UNAVAILABLE_COOLOFF_HOURS", 24)) * time.Hour,
		},

		RedisAddr:     getEnv("SUPERMIX_REDIS_ADDR", ""),
		RedisPassword: getEnv("SUPERMIX_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SUPERMIX_REDIS_DB", 0),

		TracingEnabled:    getEnvBool("SUPERMIX_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SUPERMIX_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SUPERMIX_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SUPERMIX_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("SUPERMIX_JWT_SIGNING_KEY must be provided")
	}

	if err := cfg.Queue.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (q QueueConfig) validate() error {
	if q.PrefetchSize <= 0 {
		return fmt.Errorf("SUPERMIX_QUEUE_PREFETCH_SIZE must be positive, got %d", q.PrefetchSize)
	}
	if q.MinArtistGap < 0 {
		return fmt.Errorf("SUPERMIX_MIN_ARTIST_GAP must not be negative, got %d", q.MinArtistGap)
	}
	if q.MaxGenreRatio <= 0 || q.MaxGenreRatio > 1 {
		return fmt.Errorf("SUPERMIX_MAX_GENRE_RATIO must be in (0, 1], got %v", q.MaxGenreRatio)
	}
	if q.DiscoveryRatio < 0 || q.DiscoveryRatio > 1 {
		return fmt.Errorf("SUPERMIX_DISCOVERY_RATIO must be in [0, 1], got %v", q.DiscoveryRatio)
	}
	return nil
}

// LowWatermark returns the upcoming-queue length below which a refill is triggered.
func (q QueueConfig) LowWatermark() int {
	watermark := q.PrefetchSize / 2
	if watermark < 1 {
		watermark = 1
	}
	return watermark
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}
