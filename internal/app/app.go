package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dashboard-auth/internal/config"
	"dashboard-auth/internal/logger"
)

type App struct {
	httpServer    *http.Server
	services      *Services
	sweepInterval time.Duration
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	svc, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router, err := setupHTTP(ctx, cfg, svc)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	server := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		httpServer:    server,
		services:      svc,
		sweepInterval: cfg.SweepInterval,
	}, nil
}

// Run serves HTTP until Shutdown and runs the expiry sweeper until ctx
// is done.
func (a *App) Run(ctx context.Context) error {
	if a.sweepInterval > 0 {
		go a.services.Authority.RunSweeper(ctx, a.sweepInterval)
		logger.Info("session sweeper started", map[string]any{
			"interval": a.sweepInterval.String(),
		})
	}

	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	return a.services.Close()
}
