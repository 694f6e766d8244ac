package academic

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// authFailureCodes are the service's error codes for a dead session. Some
// endpoints answer 200 with one of these inside the error body.
var authFailureCodes = []string{
	"TOKEN_EXPIRED",
	"SESSION_EXPIRED",
	"INVALID_TOKEN",
	"TOKEN_INVALID",
	"UNAUTHORIZED",
}

// APIError is a failed call to the academic service.
type APIError struct {
	// StatusCode is the HTTP status, or 0 when the request never got an answer.
	StatusCode int

	// Code is the service error code, if any.
	Code string

	Message string
	Method  string
	Path    string

	// Err is the transport error for unanswered requests.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("academic api")
	if e.Method != "" {
		fmt.Fprintf(&b, " %s %s", e.Method, e.Path)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the transport error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is maps the failure onto the shared error kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case shared.ErrAuthExpired:
		return e.IsAuthFailure()
	case shared.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case shared.ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case shared.ErrUpstreamUnavailable:
		return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
	}
	return false
}

// IsAuthFailure reports whether the session was rejected.
func (e *APIError) IsAuthFailure() bool {
	if e.StatusCode == http.StatusUnauthorized {
		return true
	}
	code := strings.ToUpper(e.Code)
	msg := strings.ToUpper(e.Message)
	for _, c := range authFailureCodes {
		if code == c || strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

// IsAuthFailure reports whether err is an authentication failure from the
// academic service.
func IsAuthFailure(err error) bool {
	return errors.Is(err, shared.ErrAuthExpired)
}

// IsTransient reports failures worth re-running after a pause: the service
// was down or throttling.
func IsTransient(err error) bool {
	return countsAsOutage(err)
}

// countsAsOutage decides which errors open the circuit breaker. Rejected
// sessions and missing records are answers, not outages.
func countsAsOutage(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, shared.ErrUpstreamUnavailable) || errors.Is(err, shared.ErrRateLimited)
}
