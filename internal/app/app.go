package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quantumfx/ea-license-service/internal/config"
	"github.com/quantumfx/ea-license-service/internal/health"
	"github.com/quantumfx/ea-license-service/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Readiness     *health.ProbeRunner
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime, readiness *health.ProbeRunner) *App {
	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		Readiness:     readiness,
	}
}

// Run serves until the context is cancelled or a termination signal
// arrives, then drains in-flight requests and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "environment", a.Config.Environment)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.Observability.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	if len(errs) == 0 {
		a.Logger.Info("shutdown complete")
	}
	return errors.Join(errs...)
}
