// Package errors defines the unified error taxonomy for completion routing.
// Every upstream-facing failure is mapped onto one of these types before it
// reaches the engine, so retry and health-penalty decisions are made on the
// classification rather than on raw transport errors.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types as constants for consistency.
const (
	TypeTransientUpstream = "transient_upstream_error"
	TypeHardUpstream      = "hard_upstream_error"
	TypeTTFTTimeout       = "ttft_timeout_error"
	TypeGlobalDeadline    = "global_deadline_exceeded"
	TypeAllModelsFailed   = "all_models_failed"
	TypeValidation        = "validation_error"
	TypeRateLimited       = "rate_limit_error"
)

// RouteError represents a classified failure in the completion path.
// StatusCode is the upstream HTTP status where one exists, zero otherwise.
type RouteError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Model      string `json:"model,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Retryable  bool   `json:"-"`
	// HealthPenalty reports whether this failure should count against the
	// model's health tracker entry. Losing a race never penalizes.
	HealthPenalty bool `json:"-"`
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("[%s] %s (model=%s, code=%d)", e.Type, e.Message, e.Model, e.StatusCode)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// HTTPStatusCode returns the status code to surface to the caller.
func (e *RouteError) HTTPStatusCode() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeGlobalDeadline:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// NewTransientUpstream classifies 429/500/502/503 responses: retry the next
// candidate without a health penalty.
func NewTransientUpstream(model string, statusCode int) *RouteError {
	return &RouteError{
		Type:       TypeTransientUpstream,
		Message:    fmt.Sprintf("upstream returned %d", statusCode),
		Model:      model,
		StatusCode: statusCode,
		Retryable:  true,
	}
}

// NewHardUpstream classifies other non-2xx responses and empty completions.
func NewHardUpstream(model string, statusCode int, message string) *RouteError {
	return &RouteError{
		Type:          TypeHardUpstream,
		Message:       message,
		Model:         model,
		StatusCode:    statusCode,
		Retryable:     true,
		HealthPenalty: true,
	}
}

// NewTTFTTimeout marks a candidate that missed its time-to-first-token
// deadline. Fatal for the attempt, not for the request.
func NewTTFTTimeout(model string) *RouteError {
	return &RouteError{
		Type:          TypeTTFTTimeout,
		Message:       "no token before deadline",
		Model:         model,
		Retryable:     true,
		HealthPenalty: true,
	}
}

// NewGlobalDeadline marks the whole request as out of time.
func NewGlobalDeadline() *RouteError {
	return &RouteError{
		Type:    TypeGlobalDeadline,
		Message: "request deadline exceeded",
	}
}

// NewAllModelsFailed is the terminal error when every batch exhausts.
func NewAllModelsFailed() *RouteError {
	return &RouteError{
		Type:    TypeAllModelsFailed,
		Message: "all models failed",
	}
}

// NewValidation rejects a request before any upstream call.
func NewValidation(message string) *RouteError {
	return &RouteError{
		Type:    TypeValidation,
		Message: message,
	}
}

// NewRateLimited rejects a request at the rate-limit boundary.
func NewRateLimited(message string) *RouteError {
	return &RouteError{
		Type:    TypeRateLimited,
		Message: message,
	}
}

// AsRouteError unwraps err into a RouteError, wrapping foreign errors as
// hard upstream failures so callers always have a type and status to map.
func AsRouteError(err error) *RouteError {
	var re *RouteError
	if errors.As(err, &re) {
		return re
	}
	return NewHardUpstream("", 0, err.Error())
}

// IsTransient reports whether err should be retried on the next candidate
// without penalizing the current one.
func IsTransient(err error) bool {
	var re *RouteError
	if errors.As(err, &re) {
		return re.Type == TypeTransientUpstream
	}
	return false
}

// PenalizesHealth reports whether err increments the failing model's counter.
func PenalizesHealth(err error) bool {
	var re *RouteError
	if errors.As(err, &re) {
		return re.HealthPenalty
	}
	return false
}

// ClassifyStatus maps an upstream HTTP status to a RouteError.
// 429 and the retryable 5xx family are transient; everything else non-2xx
// is a hard failure.
func ClassifyStatus(model string, statusCode int, body string) *RouteError {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable:
		return NewTransientUpstream(model, statusCode)
	default:
		return NewHardUpstream(model, statusCode, body)
	}
}
