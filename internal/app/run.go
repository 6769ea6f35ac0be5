package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/config"
)

const shutdownTimeout = 10 * time.Second

// Run is the main entry point for the application. It returns nil after a
// signal-initiated shutdown and the fatal error otherwise.
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewFromEnv(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting stream bridge", logging.Int("cpus", runtime.NumCPU()))

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if err := app.Serve(ctx); err != nil {
		logger.Error("Stream bridge stopped", err,
			logging.String("error_type", string(errors.GetType(err))),
			logging.Bool("restart_required", errors.IsFatal(err)),
		)
		return err
	}
	logger.Info("Stream bridge exited")
	return nil
}

// Serve starts the status server, takes the stream lock when Redis is
// configured and runs the stream until ctx is done or a fatal error occurs.
func (app *App) Serve(ctx context.Context) error {
	srv := app.NewServer()
	serverErrs, err := srv.Start()
	if err != nil {
		return errors.ConfigError("failed to start status server: " + err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("Status server forced to shut down", logging.String("error", err.Error()))
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lock, err := app.acquireStreamLock(runCtx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if lock != nil {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil {
				app.Logger.Warn("Failed to release stream lock", logging.String("error", err.Error()))
			}
		}()
	}

	if app.Refresh != nil {
		app.Refresh.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = app.Refresh.Stop(stopCtx)
		}()
	}

	result := make(chan error, 1)
	go func() { result <- app.Manager.Run(runCtx) }()

	select {
	case err = <-result:
	case err = <-serverErrs:
		app.Logger.Error("Status server failed", err)
		cancel()
		<-result
	}
	return err
}
