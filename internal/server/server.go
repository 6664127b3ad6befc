/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the service together: database, selector, queue
// manager, stream cache, player registry, event bus, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/friendsincode/supermix/internal/api"
	"github.com/friendsincode/supermix/internal/config"
	"github.com/friendsincode/supermix/internal/db"
	"github.com/friendsincode/supermix/internal/eventbus"
	"github.com/friendsincode/supermix/internal/events"
	"github.com/friendsincode/supermix/internal/library"
	"github.com/friendsincode/supermix/internal/player"
	"github.com/friendsincode/supermix/internal/queue"
	"github.com/friendsincode/supermix/internal/selector"
	"github.com/friendsincode/supermix/internal/stream"
	"github.com/friendsincode/supermix/internal/telemetry"
	"github.com/friendsincode/supermix/internal/version"
)

const (
	quarantinePruneInterval = time.Hour
	cacheSweepInterval      = 10 * time.Minute
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db      *gorm.DB
	store   *library.Store
	queue   *queue.Manager
	players *player.Registry
	cache   *stream.Cache
	api     *api.API
	bus     *events.Bus
	events  api.EventBus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(otelhttp.NewMiddleware("supermix-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the events WebSocket.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the events WebSocket is not cut off; the
		// middleware timeout covers the plain HTTP routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	var redisClient *redis.Client
	if s.cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("redis unreachable, continuing without it")
			redisClient = nil
		} else {
			s.DeferClose(redisClient.Close)
			s.logger.Info().Str("addr", s.cfg.RedisAddr).Msg("redis connected")
		}
	}

	s.store = library.NewStore(database, s.logger)
	engine := selector.New(s.cfg.Queue, s.logger)
	s.queue = queue.NewManager(s.cfg.Queue, s.store, engine, s.bus, s.logger)

	resolver := stream.NewHTTPResolver(s.cfg.Stream.ResolverURL, s.cfg.Stream.ResolveTimeout)
	s.cache = stream.NewCache(resolver, s.cfg.Stream.CacheTTL, redisClient, s.logger)

	s.players = player.NewRegistry(s.cfg.Player, s.cfg.Stream.UnavailableCooloff, s.queue, s.cache, s.store, s.bus, s.logger)

	// The WebSocket feed subscribes through the Redis-backed bus when Redis
	// is available, so events published on other nodes reach local clients.
	if redisClient != nil {
		redisBus := eventbus.NewRedisBus(s.bus, redisClient, uuid.NewString(), s.logger)
		s.DeferClose(redisBus.Close)
		s.events = redisBus
	} else {
		s.events = s.bus
	}

	s.api = api.New([]byte(s.cfg.JWTSigningKey), s.store, s.queue, s.players, s.cache, s.events, s.logger)

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the Prometheus scrape listener, when configured.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Quarantine entries past their cool-off are pruned so the songs
	// become eligible for selection again.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(quarantinePruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := s.store.PruneExpiredUnavailable(ctx)
				if err != nil {
					s.logger.Error().Err(err).Msg("pruning quarantine entries")
					continue
				}
				if pruned > 0 {
					s.logger.Info().Int64("pruned", pruned).Msg("quarantine entries expired")
				}
			}
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(cacheSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cache.Sweep()
			}
		}
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	})

	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		s.metricsServer = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	} else {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
