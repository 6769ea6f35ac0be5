package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/logging"
	"stream-bridge/internal/lifecycle"
	"stream-bridge/internal/storage"
)

// maxBodySize caps admin request bodies.
const maxBodySize = 1 << 20

// ChannelRequest is the body of create and update calls.
type ChannelRequest struct {
	Name        string   `json:"name" validate:"max=100"`
	Destination string   `json:"destination" validate:"required,webhook_url"`
	Accounts    []string `json:"accounts" validate:"required,min=1,max=500,unique,dive,account"`
	Enabled     *bool    `json:"enabled"`
}

func (req *ChannelRequest) normalize() {
	req.Name = strings.TrimSpace(req.Name)
	req.Destination = strings.TrimSpace(req.Destination)
	for i, account := range req.Accounts {
		req.Accounts[i] = strings.TrimPrefix(strings.TrimSpace(account), "@")
	}
}

func (req *ChannelRequest) enabled() bool {
	return req.Enabled == nil || *req.Enabled
}

// ListChannels returns every stored channel.
// @Summary List channels
// @Tags channels
// @Produce json
// @Security BearerAuth
// @Success 200 {array} storage.Channel
// @Router /api/channels [get]
func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListChannels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if channels == nil {
		channels = []*storage.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

// GetChannel returns one channel.
// @Summary Get channel
// @Tags channels
// @Produce json
// @Security BearerAuth
// @Param id path string true "Channel ID"
// @Success 200 {object} storage.Channel
// @Failure 404 {object} errorResponse
// @Router /api/channels/{id} [get]
func (h *Handlers) GetChannel(w http.ResponseWriter, r *http.Request) {
	channel, err := h.store.GetChannel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

// CreateChannel stores a new channel and reloads rules.
// @Summary Create channel
// @Tags channels
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param channel body ChannelRequest true "Channel"
// @Success 201 {object} storage.Channel
// @Failure 400 {object} errorResponse
// @Router /api/channels [post]
func (h *Handlers) CreateChannel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeChannel(w, r)
	if !ok {
		return
	}

	channel := &storage.Channel{
		Name:        req.Name,
		Destination: req.Destination,
		Accounts:    req.Accounts,
		Enabled:     req.enabled(),
	}
	if err := h.store.CreateChannel(r.Context(), channel); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Channel created",
		logging.String("channel_id", channel.ID),
		logging.String("username", r.Header.Get("X-Username")),
	)
	h.reloadAfterMutation(w, r)
	writeJSON(w, http.StatusCreated, channel)
}

// UpdateChannel replaces a channel and reloads rules.
func (h *Handlers) UpdateChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := h.store.GetChannel(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	req, ok := h.decodeChannel(w, r)
	if !ok {
		return
	}

	existing.Name = req.Name
	existing.Destination = req.Destination
	existing.Accounts = req.Accounts
	existing.Enabled = req.enabled()
	if err := h.store.UpdateChannel(r.Context(), existing); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Channel updated",
		logging.String("channel_id", id),
		logging.String("username", r.Header.Get("X-Username")),
	)
	h.reloadAfterMutation(w, r)
	writeJSON(w, http.StatusOK, existing)
}

// DeleteChannel removes a channel and reloads rules.
func (h *Handlers) DeleteChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.DeleteChannel(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	h.logger.Info("Channel deleted",
		logging.String("channel_id", id),
		logging.String("username", r.Header.Get("X-Username")),
	)
	h.reloadAfterMutation(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadChannels re-reads the store and resynchronizes rules now.
// @Summary Reload rules
// @Tags channels
// @Produce json
// @Security BearerAuth
// @Success 200 {object} lifecycle.ConnectionState
// @Failure 409 {object} errorResponse "Stream not running"
// @Failure 422 {object} errorResponse "Channels cannot be expressed as rules"
// @Router /api/channels/reload [post]
func (h *Handlers) ReloadChannels(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Reload(r.Context()); err != nil {
		if stderrors.Is(err, lifecycle.ErrNotRunning) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.status.State())
}

func (h *Handlers) decodeChannel(w http.ResponseWriter, r *http.Request) (*ChannelRequest, bool) {
	var req ChannelRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, errors.ValidationError("invalid JSON body: "+err.Error()))
		return nil, false
	}

	req.normalize()
	if result := h.validator.StructResult(&req); !result.Valid {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Type:   string(errors.ErrTypeValidation),
			Fields: result.Errors,
		})
		return nil, false
	}
	return &req, true
}

// reloadAfterMutation pushes the new configuration upstream. The mutation
// itself is already stored, so a failed reload is reported in the
// X-Rules-Reloaded header rather than as a request failure.
func (h *Handlers) reloadAfterMutation(w http.ResponseWriter, r *http.Request) {
	if err := h.reloader.Reload(r.Context()); err != nil {
		h.logger.Warn("Rule reload after channel change failed", logging.String("error", err.Error()))
		w.Header().Set("X-Rules-Reloaded", "false")
		return
	}
	w.Header().Set("X-Rules-Reloaded", "true")
}
