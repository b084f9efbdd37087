// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server assembles the configured stores, ceremony service and
// HTTP surface into a runnable server.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-passkey/internal/config"
	"github.com/jeremyhahn/go-passkey/internal/storage/redisstore"
	"github.com/jeremyhahn/go-passkey/internal/storage/sqlitestore"
	"github.com/jeremyhahn/go-passkey/pkg/passkey"
	passkeyhttp "github.com/jeremyhahn/go-passkey/pkg/passkey/http"
	"github.com/jeremyhahn/go-passkey/pkg/ratelimit"
)

// pinger is implemented by stores that can report backend reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the ceremony service, its stores and the HTTP router.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	service    *passkey.Service
	httpServer *http.Server
	limiter    *ratelimit.Limiter

	// backends that need health checks or teardown
	pingers []pinger
	closers []func() error

	// cancels background workers (session reaper, audit sink)
	stopWorkers context.CancelFunc
}

// New builds a Server from configuration.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	srv := &Server{
		cfg:    cfg,
		logger: newLogger(cfg.Logging),
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	srv.stopWorkers = cancel

	sessions, err := srv.buildSessionStore(workerCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	creds, directory, err := srv.buildStorage()
	if err != nil {
		cancel()
		return nil, err
	}

	var tokens passkey.TokenIssuer
	if cfg.Tokens.Enabled {
		issuer, err := passkey.NewJWTIssuer(&passkey.JWTIssuerConfig{
			Key:       []byte(cfg.Tokens.Secret),
			Issuer:    cfg.Tokens.Issuer,
			Audience:  cfg.Tokens.Audience,
			ExpiresIn: cfg.Tokens.ExpiresIn,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("token issuer: %w", err)
		}
		tokens = issuer
	}

	// Audit events go through an in-process pub/sub channel. Deployments
	// that forward them to a broker subscribe to the same topics.
	events := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(srv.logger))
	srv.closers = append(srv.closers, events.Close)
	srv.logAuditEvents(workerCtx, events)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	service, err := passkey.NewService(passkey.ServiceParams{
		Config: &passkey.Config{
			RPID:                    cfg.RelyingParty.ID,
			RPDisplayName:           cfg.RelyingParty.DisplayName,
			RPOrigins:               cfg.RelyingParty.Origins,
			SessionTTL:              cfg.RelyingParty.SessionTTL,
			Timeout:                 cfg.RelyingParty.Timeout,
			UserVerification:        cfg.RelyingParty.UserVerification,
			AttestationPreference:   cfg.RelyingParty.Attestation,
			ResidentKeyRequirement:  cfg.RelyingParty.ResidentKey,
			AuthenticatorAttachment: cfg.RelyingParty.AuthenticatorAttachment,
		},
		Sessions:    sessions,
		Credentials: creds,
		Directory:   directory,
		Tokens:      tokens,
		Events:      events,
		Metrics:     passkey.NewMetrics(registry),
		Logger:      srv.logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ceremony service: %w", err)
	}
	srv.service = service

	srv.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.setupRouter(registry),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// Service exposes the ceremony service, for tests and embedding.
func (s *Server) Service() *passkey.Service {
	return s.service
}

// Handler exposes the assembled router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP. It blocks until the listener fails or the
// server is stopped.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.httpServer.Addr,
		"base_path", s.cfg.Server.BasePath,
		"rp_id", s.cfg.RelyingParty.ID)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server and its backends.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.stopWorkers()
	s.limiter.Stop()
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Error("backend close failed", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildSessionStore(ctx context.Context) (passkey.SessionStore, error) {
	switch s.cfg.Sessions.Backend {
	case "redis":
		rc := s.cfg.Sessions.Redis
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		s.closers = append(s.closers, client.Close)

		var opts []redisstore.Option
		if rc.Prefix != "" {
			opts = append(opts, redisstore.WithPrefix(rc.Prefix))
		}
		store := redisstore.NewSessionStore(client, opts...)
		s.pingers = append(s.pingers, store)
		return store, nil

	case "memory":
		store := passkey.NewMemorySessionStore()
		interval := s.cfg.Sessions.ReapInterval
		if interval <= 0 {
			interval = time.Minute
		}
		store.StartReaper(ctx, interval)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session backend: %s", s.cfg.Sessions.Backend)
	}
}

func (s *Server) buildStorage() (passkey.CredentialStore, passkey.Directory, error) {
	switch s.cfg.Storage.Backend {
	case "sqlite":
		store, err := sqlitestore.Open(s.cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		s.pingers = append(s.pingers, store)
		s.closers = append(s.closers, store.Close)
		return store, store, nil

	case "memory":
		return passkey.NewMemoryCredentialStore(), passkey.NewMemoryDirectory(), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", s.cfg.Storage.Backend)
	}
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter(registry *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware())
	r.Use(s.correlationMiddleware())
	r.Use(s.loggingMiddleware())
	if s.limiter.IsEnabled() {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	if s.cfg.Health.Enabled {
		path := s.cfg.Health.Path
		if path == "" {
			path = "/healthz"
		}
		r.Get(path, s.healthHandler)
	}
	if s.cfg.Metrics.Enabled {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	handler := passkeyhttp.NewHandler(s.service).WithLogger(s.logger)
	r.Route(s.cfg.Server.BasePath, func(r chi.Router) {
		passkeyhttp.Mount(r, handler)
	})

	return r
}

// healthHandler reports liveness plus reachability of configured backends.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// logAuditEvents drains the audit topics into the structured log. This is
// the default sink; deployments with a broker replace it by subscribing
// to the same topics themselves.
func (s *Server) logAuditEvents(ctx context.Context, events *gochannel.GoChannel) {
	topics := []string{
		passkey.TopicCredentialRegistered,
		passkey.TopicLoginSucceeded,
		passkey.TopicCloneSuspected,
	}
	for _, topic := range topics {
		messages, err := events.Subscribe(ctx, topic)
		if err != nil {
			s.logger.Error("audit subscription failed", "topic", topic, "error", err)
			continue
		}
		go func(topic string, messages <-chan *message.Message) {
			for msg := range messages {
				s.logger.Info("audit event", "topic", topic, "payload", string(msg.Payload))
				msg.Ack()
			}
		}(topic, messages)
	}
}

// newLogger builds the process logger per configuration.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
