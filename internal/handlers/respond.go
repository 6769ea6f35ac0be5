package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"stream-bridge/internal/common/errors"
	"stream-bridge/internal/common/validation"
)

type errorResponse struct {
	Error  string                  `json:"error"`
	Type   string                  `json:"type,omitempty"`
	Fields []validation.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an error's type to a status code. Internal causes are
// not exposed.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= 500 {
		h.logger.Error("Request failed", err)
		message = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: message, Type: string(errors.GetType(err))})
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrTypeRuleSet:
		return http.StatusUnprocessableEntity
	case errors.ErrTypeUpstreamRule, errors.ErrTypeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
