/*
Copyright (C) 2026 Backline HQ

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/backlinehq/backline/internal/api"
	"github.com/backlinehq/backline/internal/cache"
	"github.com/backlinehq/backline/internal/config"
	"github.com/backlinehq/backline/internal/db"
	"github.com/backlinehq/backline/internal/eventbus"
	"github.com/backlinehq/backline/internal/events"
	"github.com/backlinehq/backline/internal/models"
	"github.com/backlinehq/backline/internal/setlist"
	"github.com/backlinehq/backline/internal/spotify"
	"github.com/backlinehq/backline/internal/storage"
	"github.com/backlinehq/backline/internal/telemetry"
	"github.com/backlinehq/backline/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db            *gorm.DB
	cache         *cache.Cache
	bus           events.Dispatcher
	api           *api.API
	setlistSvc    *setlist.Service
	storageSvc    *storage.Service
	spotifyClient *spotify.Client

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires the full service from configuration.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("backline-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections; the event stream stays open
	// for the lifetime of the client.
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
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but do not enforce a full-body
		// read deadline so attachment uploads are not terminated mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// The middleware timeout (60s) handles non-websocket routes.
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
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

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
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register database callbacks: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Tracing first so the rest of the stack picks up the global provider.
	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "backline",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("tracing initialization failed, continuing without tracing")
	} else if tracerProvider != nil {
		s.DeferClose(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracerProvider.Shutdown(ctx)
		})
	}

	// Redis cache for song summaries, preferences, and Spotify lookups.
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		entityCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		} else {
			s.cache = entityCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	}

	bus, err := s.initEventBus()
	if err != nil {
		return err
	}
	s.bus = bus

	s.setlistSvc = setlist.NewService(s.db, s.bus, s.logger)
	if s.cache != nil {
		s.setlistSvc.SetCache(s.cache)
	}

	storageSvc, err := storage.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("initialize attachment storage: %w", err)
	}
	s.storageSvc = storageSvc

	// Always constructed: the client reports ErrNotConfigured when credentials
	// are missing, so handlers never need a nil check.
	s.spotifyClient = spotify.New(spotify.Config{
		ClientID:     s.cfg.SpotifyClientID,
		ClientSecret: s.cfg.SpotifyClientSecret,
		APIBase:      s.cfg.SpotifyAPIBase,
		TokenURL:     s.cfg.SpotifyTokenURL,
	}, s.logger)
	if !s.cfg.SpotifyEnabled() {
		s.logger.Info().Msg("spotify credentials not configured, search proxy disabled")
	}

	apiMaxUploadBytes := int64(32 << 20)
	if configured := s.cfg.MaxUploadSizeBytes(); configured > 0 {
		apiMaxUploadBytes = configured
	}
	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.setlistSvc, s.spotifyClient, s.storageSvc, s.bus, apiMaxUploadBytes, s.cfg.InvitationTTL, s.logger)
	if s.cache != nil {
		s.api.SetCache(s.cache)
	}

	return nil
}

// initEventBus selects the event transport. Redis and NATS keep multiple
// instances in sync; both fall back to in-memory delivery on connection loss.
func (s *Server) initEventBus() (events.Dispatcher, error) {
	switch s.cfg.EventBus {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		bus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create redis event bus: %w", err)
		}
		s.DeferClose(bus.Close)
		return bus, nil

	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		bus, err := eventbus.NewNATSBus(natsCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return nil, fmt.Errorf("create nats event bus: %w", err)
		}
		s.DeferClose(bus.Close)
		return bus, nil

	default:
		return events.NewBus(), nil
	}
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
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

	// Database connection pool metrics updater
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Invitation expiry sweeper
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runInvitationSweeper(ctx)
	}()

	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}

	// Metrics listener on its own port so /metrics is never exposed on the
	// public bind address.
	if s.cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		metricsServer := &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.DeferClose(func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})

		// Not tracked by bgWG: the listener only stops once its Shutdown
		// closer runs, which happens after bgWG.Wait in Close.
		go func() {
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics listener started")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener exited")
			}
		}()
	}
}

// runInvitationSweeper deletes expired unused invitations so stale codes do
// not pile up in the invitations list.
func (s *Server) runInvitationSweeper(ctx context.Context) {
	interval := s.cfg.InvitationSweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredInvitations(ctx)
		}
	}
}

func (s *Server) sweepExpiredInvitations(ctx context.Context) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Where("expires_at < ? AND used_by = ''", now).
		Delete(&models.Invitation{})
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("invitation sweep failed")
		return
	}
	if result.RowsAffected == 0 {
		return
	}

	telemetry.InvitationsExpiredTotal.Add(float64(result.RowsAffected))
	s.bus.Publish(events.EventInvitationExpired, events.Payload{
		"count": result.RowsAffected,
	})
	s.logger.Info().Int64("count", result.RowsAffected).Msg("expired invitations removed")
}

// runCacheInvalidationListener drops cached band data when another instance
// publishes an invalidation event over the shared bus.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	bandSongs := s.bus.Subscribe(events.EventCacheBandSongs)
	preferences := s.bus.Subscribe(events.EventCachePreferences)

	defer func() {
		s.bus.Unsubscribe(events.EventCacheBandSongs, bandSongs)
		s.bus.Unsubscribe(events.EventCachePreferences, preferences)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-bandSongs:
			if bandID, ok := payload["band_id"].(string); ok && bandID != "" {
				s.logger.Debug().Str("band_id", bandID).Msg("invalidating song summary cache")
				_ = s.cache.InvalidateBandSongs(ctx, bandID)
			}

		case payload := <-preferences:
			if bandID, ok := payload["band_id"].(string); ok && bandID != "" {
				s.logger.Debug().Str("band_id", bandID).Msg("invalidating preferences cache")
				_ = s.cache.InvalidatePreferences(ctx, bandID)
			}
		}
	}
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
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Version)
	})

	s.api.Routes(s.router)
}
