// Package handlers serves the bridge's HTTP surface: the plain-text status
// page, health and status JSON, Prometheus metrics and the channel admin API.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"stream-bridge/internal/auth"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/common/validation"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/middleware"
	"stream-bridge/internal/ratelimit"
	"stream-bridge/internal/storage"
)

// StatusProvider reports the stream lifecycle state.
type StatusProvider interface {
	State() lifecycle.ConnectionState
}

// Reloader rebuilds and resynchronizes rules from the channel store.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Deps are the collaborators the handlers need. Store, Auth and Reloader
// are only required for the admin API.
type Deps struct {
	Status   StatusProvider
	Store    storage.ChannelStore
	Reloader Reloader
	Auth     *auth.Auth
	Limiter  *ratelimit.Limiter
	Metrics  http.Handler
	Logger   logging.Logger
}

type Handlers struct {
	status    StatusProvider
	store     storage.ChannelStore
	reloader  Reloader
	auth      *auth.Auth
	limiter   *ratelimit.Limiter
	metrics   http.Handler
	logger    logging.Logger
	validator *validation.Validator
	now       func() time.Time
}

func New(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Handlers{
		status:    deps.Status,
		store:     deps.Store,
		reloader:  deps.Reloader,
		auth:      deps.Auth,
		limiter:   deps.Limiter,
		metrics:   deps.Metrics,
		logger:    deps.Logger.WithFields(logging.String("component", "handlers")),
		validator: validation.New(),
		now:       time.Now,
	}
}

// AdminEnabled reports whether the channel API is mounted.
func (h *Handlers) AdminEnabled() bool {
	return h.auth != nil && h.store != nil && h.reloader != nil
}

// Routes builds the router.
func (h *Handlers) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging(h.logger))

	router.HandleFunc("/", h.Root).Methods(http.MethodGet)
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	router.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}

	if !h.AdminEnabled() {
		return router
	}

	api := router.PathPrefix("/api").Subrouter()
	if h.limiter != nil {
		api.Use(h.limiter.HTTPMiddleware(ratelimit.IPBasedKey))
	}
	api.Use(h.auth.RequireAuth)

	api.HandleFunc("/channels", h.ListChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels", h.CreateChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels/reload", h.ReloadChannels).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}", h.GetChannel).Methods(http.MethodGet)
	api.HandleFunc("/channels/{id}", h.UpdateChannel).Methods(http.MethodPut)
	api.HandleFunc("/channels/{id}", h.DeleteChannel).Methods(http.MethodDelete)

	return router
}
