// Package api implements the Query API described in spec §4.6: a single
// HTTP/JSON listening port exposing health, job list/get/trigger/cancel,
// log tail, webhook intake and metrics endpoints for the TUI and CLI.
//
// Grounded on the teacher's internal/fabricserver/server.go for the
// server lifecycle shape (Config with timeout defaults, Start(ctx)
// blocking until ctx is cancelled then a bounded graceful Shutdown,
// a logging middleware wrapping the whole mux) generalized from a
// single-mux VPN-only fabric server to a chi router serving the wider
// set of routes this spec requires.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/raibid-labs/raibid-ci/internal/logstream"
	"github.com/raibid-labs/raibid-ci/internal/metrics"
	"github.com/raibid-labs/raibid-ci/internal/queue"
	"github.com/raibid-labs/raibid-ci/internal/webhook"
)

// Config holds the Query API's listen and middleware parameters.
type Config struct {
	// Host to bind (default "0.0.0.0").
	Host string
	// Port to listen on (default 8080).
	Port int

	// ReadTimeout is the max time to read a request (default 30s).
	ReadTimeout time.Duration
	// WriteTimeout is the max time to write a response (default 60s),
	// long enough for a non-follow log fetch. net/http applies this as
	// a single deadline set when the request is read, not renewed per
	// write — so it would otherwise sever a follow=true log stream
	// mid-job. handleJobLogs clears its own per-request write deadline
	// via http.ResponseController before writing anything, so this
	// value never bounds that route.
	WriteTimeout time.Duration

	// CORSEnabled toggles permissive CORS for browser-based TUI clients
	// (RAIBID_CORS_ENABLED).
	CORSEnabled bool
	// CORSAllowedOrigins is used only when CORSEnabled is true.
	CORSAllowedOrigins []string

	// MaxBodyBytes caps request bodies for the trigger and webhook
	// endpoints (RAIBID_MAX_BODY_SIZE). Zero uses a 1MiB default.
	MaxBodyBytes int64

	// WebhookSecrets carries the per-flavor HMAC secrets.
	WebhookSecrets webhook.Secrets
	// WebhookRateLimitRPM is the per-source-IP budget applied only to
	// the /webhooks/* routes (RAIBID_RATE_LIMIT_RPM, default 100).
	WebhookRateLimitRPM int

	StartedAt time.Time
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
}

// Server is the Query API's embedded HTTP server.
type Server struct {
	cfg     Config
	router  chi.Router
	server  *http.Server
	q       *queue.Client
	logs    *logstream.Store
	webhook *webhook.Handler
	limiter *webhook.RateLimiter
}

// NewServer wires a Server over q (and its derived log store), ready
// to Start.
func NewServer(cfg Config, q *queue.Client) *Server {
	cfg.setDefaults()

	s := &Server{
		cfg:     cfg,
		q:       q,
		logs:    logstream.NewStore(q),
		webhook: webhook.NewHandler(cfg.WebhookSecrets, q),
		limiter: webhook.NewRateLimiter(cfg.WebhookRateLimitRPM),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.cfg.CORSEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleHealthLive)
	r.Get("/health/ready", s.handleHealthReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Post("/", s.handleTriggerJob)
		r.Get("/{id}", s.handleGetJob)
		r.Post("/{id}/cancel", s.handleCancelJob)
		r.Get("/{id}/logs", s.handleJobLogs)
		r.Get("/{id}/logs/ws", s.handleJobLogsWS)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(func(next http.Handler) http.Handler {
			return http.MaxBytesHandler(next, s.cfg.MaxBodyBytes)
		})
		r.Post("/gitea", s.webhook.Gitea)
		r.Post("/github", s.webhook.GitHub)
	})

	return r
}

// Start begins listening and blocks until ctx is cancelled, then
// performs a bounded graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	log.Printf("[api] listening on %s", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler exposes the router directly, for httptest-based callers.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[api] %s %s %s (%s)", r.Method, r.URL.Path, w.Header().Get("X-Request-Id"), time.Since(start).Round(time.Millisecond))
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}
