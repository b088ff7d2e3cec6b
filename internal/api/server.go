// Package api exposes the derivation engine over a local HTTP interface:
// the derive operation, cache maintenance for operational tooling, and
// Prometheus metrics. Seed phrases arrive in request bodies and are never
// logged.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"seedforge/go-engine/internal/config"
	"seedforge/go-engine/internal/engine"
	"seedforge/go-engine/internal/observability"
	"seedforge/go-engine/internal/platform/ratelimiter"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultListenAddr = "127.0.0.1:8790"

type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	log        *slog.Logger
	limiter    *ratelimiter.MapLimiter
}

// NewServer wires the engine behind an HTTP mux. The limiter applies per
// client address; invalid rate settings disable limiting.
func NewServer(cfg config.Config, eng *engine.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	addr := cfg.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		engine:  eng,
		log:     logger,
		limiter: ratelimiter.New(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst, 10*time.Minute),
	}

	observability.RegisterMetrics()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/keys/derive", s.handleDerive)
	mux.HandleFunc("/v1/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/v1/cache/disk", s.handleDiskInfo)
	mux.HandleFunc("/v1/cache/cleanup", s.handleCleanup)
	mux.HandleFunc("/v1/cache/clear", s.handleClear)
	mux.HandleFunc("/v1/pool/stats", s.handlePoolStats)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Run serves until ctx is cancelled, then shuts down the listener and the
// engine's worker pool.
func (s *Server) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	default:
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
			return
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.engine.Close(5 * time.Second)
		return <-errCh
	case err := <-errCh:
		s.engine.Close(5 * time.Second)
		return err
	}
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
