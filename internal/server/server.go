// Package server wires a nervis.Visualizer into an HTTP server: the public
// JSON API used by the presentation layer, the admin API, health and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/admin"
	"github.com/ferro-labs/ner-visualizer/internal/logging"
	"github.com/ferro-labs/ner-visualizer/internal/ratelimit"
	"github.com/ferro-labs/ner-visualizer/internal/requestlog"
	"github.com/ferro-labs/ner-visualizer/internal/session"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/ferro-labs/ner-visualizer/internal/plugins/logger"
	_ "github.com/ferro-labs/ner-visualizer/internal/plugins/maxlength"
	_ "github.com/ferro-labs/ner-visualizer/internal/plugins/wordfilter"
)

// Server timeouts. WriteTimeout leaves room for the slowest endpoint call.
const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 120 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 15 * time.Second
	pruneInterval   = time.Minute
)

// Server is a configured visualizer with its HTTP handler.
type Server struct {
	cfg      nervis.Config
	vis      *nervis.Visualizer
	models   *admin.ModelManager
	sessions *session.Store
	limiter  *ratelimit.Store
	logs     *requestlog.SQLWriter
	handler  http.Handler
	closers  []io.Closer
}

// New builds the visualizer described by cfg, loads any saved model list
// and opens the request log. opts are passed to nervis.New.
func New(cfg nervis.Config, opts ...nervis.Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		sessions: session.NewStore(session.DefaultMaxSessions, session.DefaultTTL),
	}

	opts = append([]nervis.Option{nervis.WithSessions(s.sessions)}, opts...)
	vis, err := nervis.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	s.vis = vis

	store, err := admin.OpenModelStore(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Storage.ModelsFile)
	if err != nil {
		return nil, fmt.Errorf("model store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	s.models, err = admin.NewModelManager(vis, store)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("load saved models: %w", err)
	}

	if cfg.Storage.RequestLog {
		s.logs, err = requestlog.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("request log: %w", err)
		}
		s.closers = append(s.closers, s.logs)
		vis.AddHook(nervis.RequestLogHook(s.logs))
	}

	if rl := cfg.Server.RateLimit; rl != nil {
		burst := rl.Burst
		if burst <= 0 {
			burst = rl.RequestsPerSecond
		}
		s.limiter = ratelimit.NewStore(rl.RequestsPerSecond, burst)
	}

	if cfg.Server.AdminToken == "" {
		logging.Logger.Warn("admin API and model editing are unauthenticated; set server.admin_token to protect them")
	}

	s.handler = s.newRouter()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Visualizer returns the wrapped visualizer.
func (s *Server) Visualizer() *nervis.Visualizer { return s.vis }

// Run serves on cfg.Server.Listen until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Listen,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	if s.limiter != nil {
		go s.pruneLimiter(ctx)
	}

	errc := make(chan error, 1)
	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errc <- srv.Shutdown(shutdownCtx)
	}()

	logging.Logger.Info("nervis listening",
		"addr", srv.Addr,
		"models", len(s.vis.Models()),
		"cache_capacity", s.cfg.Cache.CapacityPerModel,
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-errc; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logging.Logger.Info("server stopped")
	return nil
}

func (s *Server) pruneLimiter(ctx context.Context) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.limiter.Prune(); n > 0 {
				logging.Logger.Debug("rate limiter pruned", "keys", n)
			}
		}
	}
}

// Close releases the model store and request log.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
