package app

import (
	"net/http"

	"stream-bridge/internal/handlers"
	"stream-bridge/internal/ratelimit"
	"stream-bridge/internal/server"
)

// adminRateLimit paces the admin API per client address.
var adminRateLimit = ratelimit.Config{RequestsPerSecond: 2, Burst: 10, Enabled: true}

// Handler builds the HTTP surface.
func (app *App) Handler() http.Handler {
	deps := handlers.Deps{
		Status:  app.Manager,
		Metrics: app.Metrics.Handler(),
		Logger:  app.Logger,
	}
	if app.Auth != nil {
		limits := adminRateLimit
		deps.Store = app.Store
		deps.Reloader = app
		deps.Auth = app.Auth
		deps.Limiter = ratelimit.NewLimiter(&limits)
	}
	return handlers.New(deps).Routes()
}

// NewServer creates the status server on the configured port.
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port, app.Logger)
}
