// Package app assembles the bridge from configuration and runs it until a
// signal or a fatal stream condition.
package app

import (
	"context"
	"fmt"

	"stream-bridge/internal/auth"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/config"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/locks"
	"stream-bridge/internal/metrics"
	"stream-bridge/internal/mirror"
	"stream-bridge/internal/redis"
	"stream-bridge/internal/refresh"
	"stream-bridge/internal/storage"
	"stream-bridge/internal/webhook"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Logger      logging.Logger
	Store       storage.ChannelStore
	RedisClient *redis.Client
	Locks       *locks.RedsyncManager
	Auth        *auth.Auth
	Metrics     *metrics.Metrics
	Dispatcher  *webhook.Dispatcher
	Mirror      *mirror.Router
	Manager     *lifecycle.Manager
	Refresh     *refresh.Scheduler
}

// New creates a new application instance with all dependencies. Nothing
// is started; see Serve.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	app := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := app.initializeStorage(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeRedis(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeStream(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeRefresh(); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Reload resynchronizes rules from the store and drops delivery state for
// destinations that are no longer configured.
func (app *App) Reload(ctx context.Context) error {
	if err := app.Manager.Reload(ctx); err != nil {
		return err
	}
	app.Dispatcher.Forget(app.Manager.Table().AllDestinations())
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Mirror != nil {
		if err := app.Mirror.Close(); err != nil {
			app.Logger.Warn("Error closing mirror sinks", logging.String("error", err.Error()))
		}
	}
	if app.Locks != nil {
		_ = app.Locks.Close()
	}
	if app.RedisClient != nil {
		_ = app.RedisClient.Close()
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing channel store", logging.String("error", err.Error()))
		}
	}
}

func (app *App) initializeRefresh() error {
	if app.Config.RuleRefreshSchedule == "" {
		return nil
	}
	scheduler, err := refresh.New(app.Config.RuleRefreshSchedule, app, app.Logger)
	if err != nil {
		return fmt.Errorf("failed to schedule rule refresh: %w", err)
	}
	app.Refresh = scheduler
	return nil
}
