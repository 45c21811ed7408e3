// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/canalworks/internal/activity"
	"github.com/matthewbaird/canalworks/internal/config"
	"github.com/matthewbaird/canalworks/internal/dupguard"
	"github.com/matthewbaird/canalworks/internal/event"
	"github.com/matthewbaird/canalworks/internal/eventbus"
	"github.com/matthewbaird/canalworks/internal/handler"
	"github.com/matthewbaird/canalworks/internal/metrics"
	"github.com/matthewbaird/canalworks/internal/rules"
	"github.com/matthewbaird/canalworks/internal/service"
	"github.com/matthewbaird/canalworks/internal/session"
	"github.com/matthewbaird/canalworks/internal/store"
	"github.com/matthewbaird/canalworks/internal/types"
	"github.com/matthewbaird/canalworks/internal/wire"
	"github.com/matthewbaird/canalworks/internal/workflow"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Minute
)

// Config holds server configuration.
type Config struct {
	App    config.Config
	Store  *store.Store
	Rules  *rules.Rules
	Logger *zap.Logger
}

// Server is the assembled application: the API, the form sessions and the
// event pipeline behind them.
type Server struct {
	cfg      config.Config
	store    *store.Store
	logger   *zap.Logger
	bus      *eventbus.Bus
	guard    *dupguard.Guard
	sessions *session.Manager
	activity *activity.MemoryStore
	svc      *service.Service
	reducer  *workflow.Reducer
	router   chi.Router
}

// New wires every component. Nothing runs until Run.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler.SetLogger(logger.Named("http"))

	s := &Server{
		cfg:      cfg.App,
		store:    cfg.Store,
		logger:   logger,
		bus:      eventbus.New(cfg.App.EventBuffer, logger),
		guard:    dupguard.New(),
		sessions: session.NewManager(cfg.App.SessionMaxAge, cfg.App.SessionIdleTimeout, logger.Named("session")),
		activity: activity.NewMemoryStore(
			activity.WithMaxEntries(cfg.App.ActivityMaxEntries),
			activity.WithRetention(cfg.App.ActivityRetention),
		),
	}

	rec := event.NewActivityRecorder(s.activity)
	rec.SetPublisher(s.bus)
	s.bus.Subscribe("log", eventbus.NewLogConsumer(logger))
	s.bus.Subscribe("guard", eventbus.NewGuardConsumer(s.guard))
	s.bus.Subscribe("metrics", metrics.EventConsumer{})

	svc := service.New(cfg.Store, cfg.Rules, rec, logger.Named("service"))
	reducer := workflow.NewReducer(cfg.Rules, s.guard, workflow.Rollback(cfg.App.RollbackPolicy))
	s.svc, s.reducer = svc, reducer
	ws := wire.NewHandler(s.sessions, reducer, svc,
		func(audit types.Audit) workflow.Gateway { return svc.As(audit) },
		logger,
		metrics.Observer{},
		event.NewSubmissionRecorder(rec, logger),
	).AllowOrigins(cfg.App.AllowedOrigins...)

	r := chi.NewRouter()
	r.Use(handler.Recovery, handler.Logging)
	r.Get("/healthz", handler.Healthz(func(req *http.Request) error { return cfg.Store.Ping(req.Context()) }))
	r.Handle("/metrics", promhttp.Handler())
	handler.Register(r, handler.NewWorkHandler(svc), handler.NewActivityHandler(s.activity))
	r.Get("/v1/forms/ws", ws.ServeHTTP)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the event bus, the session janitor and the HTTP server, and
// blocks until ctx is cancelled or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.guard.Refresh(ctx, s.store); err != nil {
		return err
	}
	s.logger.Info("duplicate guard loaded", zap.Int("names", s.guard.Len()))

	g, gctx := errgroup.WithContext(ctx)
	s.bus.Start(gctx)

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.sessions.Run(gctx, cleanupInterval)
		return nil
	})
	g.Go(func() error {
		s.logger.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.bus.Stop()
		s.logger.Info("server stopped")
		return err
	})
	return g.Wait()
}

// Run builds a Server from cfg and runs it until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	return New(cfg).Run(ctx)
}
