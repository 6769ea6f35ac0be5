// Package errors defines the structured error taxonomy shared by the bridge.
// Every failure that crosses a component boundary is an *AppError whose Type
// decides how the lifecycle reacts to it: back off, log and continue, or
// terminate the process.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeUpstreamRule is a failed call to the rules management endpoint
	ErrTypeUpstreamRule ErrorType = "upstream_rule"
	// ErrTypeTransport is a stream transport failure (reset, timeout, bad status)
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeConnectionLimit means the upstream still counts a previous connection
	ErrTypeConnectionLimit ErrorType = "connection_limit"
	// ErrTypeParse is an unreadable stream frame
	ErrTypeParse ErrorType = "parse"
	// ErrTypeDispatch is a failed delivery to one webhook destination
	ErrTypeDispatch ErrorType = "dispatch"
	// ErrTypeSilentDisconnect means no frame arrived within the silence threshold
	ErrTypeSilentDisconnect ErrorType = "silent_disconnect"
	// ErrTypeMaxRetries means reconnect attempts were exhausted
	ErrTypeMaxRetries ErrorType = "max_retries"
	// ErrTypeRuleSet is a rule set that cannot be represented upstream
	ErrTypeRuleSet ErrorType = "rule_set"
	// ErrTypeConnection represents connection-related errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// UpstreamRuleError reports an unexpected response from the rules endpoint.
// The raw response body is kept in the context for diagnosis.
func UpstreamRuleError(operation string, status int, body string) *AppError {
	return (&AppError{
		Type:    ErrTypeUpstreamRule,
		Message: fmt.Sprintf("%s returned unexpected status %d", operation, status),
	}).WithContext("status", status).WithContext("body", body)
}

// TransportError wraps a stream transport failure
func TransportError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeTransport, Message: msg, Cause: cause}
}

// ConnectionLimitError reports that the upstream refused the stream because
// the connection quota is still held.
func ConnectionLimitError(detail string) *AppError {
	return &AppError{Type: ErrTypeConnectionLimit, Message: detail}
}

// ParseError reports a frame that is neither a keep-alive nor valid JSON
func ParseError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeParse, Message: msg, Cause: cause}
}

// DispatchError reports a failed delivery to a single destination
func DispatchError(destination string, status int, cause error) *AppError {
	msg := fmt.Sprintf("delivery to destination failed with status %d", status)
	if status == 0 {
		msg = "delivery to destination failed"
	}
	return (&AppError{Type: ErrTypeDispatch, Message: msg, Cause: cause}).
		WithContext("destination", destination)
}

// SilentDisconnectError reports a stream that stopped sending frames
func SilentDisconnectError(silence string) *AppError {
	return &AppError{
		Type:    ErrTypeSilentDisconnect,
		Message: fmt.Sprintf("no frames received for %s", silence),
	}
}

// MaxRetriesError reports exhausted reconnect attempts
func MaxRetriesError(attempts int, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeMaxRetries,
		Message: fmt.Sprintf("giving up after %d reconnect attempts", attempts),
		Cause:   cause,
	}
}

// RuleSetError reports a channel configuration that cannot become filter rules
func RuleSetError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeRuleSet, Message: msg, Cause: cause}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeConnection, Message: msg, Cause: cause}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{Type: ErrTypeValidation, Message: msg}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{Type: ErrTypeConfig, Message: msg}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{Type: ErrTypeAuth, Message: msg}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{Type: ErrTypeNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{Type: ErrTypeInternal, Message: msg, Cause: cause}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{Type: ErrTypeRateLimit, Message: fmt.Sprintf("rate limit exceeded for %s", resource)}
}

// IsType checks if err, or anything it wraps, is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// IsFatal reports whether err must terminate the process so an external
// supervisor can restart it.
func IsFatal(err error) bool {
	switch GetType(err) {
	case ErrTypeUpstreamRule, ErrTypeSilentDisconnect, ErrTypeMaxRetries, ErrTypeRuleSet:
		return true
	default:
		return false
	}
}
