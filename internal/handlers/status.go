package handlers

import (
	"fmt"
	"net/http"
	"time"
)

type healthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	LastAlive time.Time `json:"last_alive"`
	Timestamp time.Time `json:"timestamp"`
}

// Root is the plain-text liveness page.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	lastAlive := "never"
	if state := h.status.State(); !state.LastAlive.IsZero() {
		lastAlive = state.LastAlive.UTC().Format(http.TimeFormat)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Active and Listening. Last Alive: %s", lastAlive)
}

// Health returns 200 while the stream is connected and 503 otherwise.
// @Summary Health check
// @Produce json
// @Success 200 {object} healthResponse
// @Failure 503 {object} healthResponse
// @Router /health [get]
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	state := h.status.State()
	resp := healthResponse{
		Status:    "ok",
		State:     state.StateName,
		LastAlive: state.LastAlive,
		Timestamp: h.now().UTC(),
	}
	code := http.StatusOK
	if !state.Connected {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// Status returns the full connection state snapshot.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.State())
}
