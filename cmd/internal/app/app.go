// Package app wires the tally server runtime: config, logging, persistence, HTTP routes,
// metrics and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/api"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/auth/session"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/ledger"
	"github.com/akinsuyitaiwo/financial-management-system/cmd/internal/realtime"
)

// App is the tally server runtime: it owns the stores, the hub and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	backend  *backend

	hub      *realtime.Hub
	users    *identity.Service
	sessions *session.Service
	ledger   *ledger.Service

	api *api.Handler
	ws  *realtime.WSGateway

	handler http.Handler
}

// New constructs a fully wired App. cfg must already be validated.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		return nil, errors.New("app: nil logger")
	}

	be, err := openBackend(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(cfg, log, be)
	if err != nil {
		_ = be.close()
		return nil, err
	}
	return a, nil
}

func wire(cfg Config, log Logger, be *backend) (*App, error) {
	reg := newRegistry()
	hub := realtime.NewHub(log, realtime.NewMetrics(reg))

	users, err := identity.NewService(be.users, cfg.Passwords,
		identity.WithGroupJoiner(hub),
		identity.WithServiceLogger(log),
	)
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewService(cfg.Session, be.users, cfg.Passwords,
		session.WithGroupJoiner(hub),
		session.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	ledgerSvc, err := ledger.NewService(be.ledger, be.users, hub, ledger.WithLogger(log))
	if err != nil {
		return nil, err
	}

	apiHandler, err := api.NewHandler(log, cfg.API, users, sessions, ledgerSvc)
	if err != nil {
		return nil, err
	}

	ws, err := realtime.NewWSGateway(log, hub, sessions, cfg.Realtime, realtime.WithMembershipChecker(users))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		backend:  be,
		hub:      hub,
		users:    users,
		sessions: sessions,
		ledger:   ledgerSvc,
		api:      apiHandler,
		ws:       ws,
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux)

	httpMetrics := newHTTPMetrics(reg)
	a.handler = WithSecurityHeaders(
		WithCORS(
			httpMetrics.WithHTTPMetrics(WithRequestLogging(mux, log)),
			cfg.HTTP.CORS, log,
		),
	)
	return a, nil
}

// Handler is the complete HTTP surface, middleware included.
func (a *App) Handler() http.Handler { return a.handler }

// Hub exposes the realtime hub, mainly for tests.
func (a *App) Hub() *realtime.Hub { return a.hub }

// Close releases the persistence resources.
func (a *App) Close() error {
	return a.backend.close()
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.HTTP.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.HTTP.ReadTimeout, 15*time.Second),
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.HTTP.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.HTTP.MaxHeaderBytes, 1<<20),
	}

	// Shutdown does not track hijacked connections; closing the hub ends every gateway session.
	srv.RegisterOnShutdown(a.hub.CloseAll)

	a.log.Info("server.start", "addr", a.cfg.HTTP.Addr, "backend", a.backend.name)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.HTTP.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		_ = a.Close()
		return err
	}

	if err := a.Close(); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
