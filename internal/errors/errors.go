// Package errors provides structured error types for the clientdesk core.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session and workflow pipeline.
var (
	// ErrNoCredential means no access credential is present at all.
	ErrNoCredential = errors.New("no credential present")

	// ErrSessionExpired means the refresh credential is invalid or expired.
	// Terminal: the watchdog forces sign-out, business code never recovers it.
	ErrSessionExpired = errors.New("session expired")

	// ErrTransient covers connectivity failures the caller may retry manually.
	ErrTransient = errors.New("transient network failure")

	// ErrForbidden means the principal is authenticated but its roles or
	// its relation to the record do not allow the requested action.
	ErrForbidden = errors.New("action not permitted")

	// ErrInvalidInput covers malformed input, e.g. a missing rejection reason.
	ErrInvalidInput = errors.New("invalid input")
)

// TransitionError reports an action that is not valid from the record's
// current status. It is raised before any network call.
type TransitionError struct {
	Action string
	Status string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("action %q not valid from status %q", e.Action, e.Status)
}

// APIError represents an error returned by the upstream records API.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s API error (status %d): %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// NewAPIError creates a new API error.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: message}
}

// IsRetryable returns true if the error is likely transient and worth
// retrying. Authorization failures are never retryable here: a 401 is the
// gateway's refresh trigger, not a backoff case.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return errors.Is(err, ErrTransient)
}

// IsTerminal returns true if the error ends the session. Terminal errors
// escalate to the watchdog; they are never surfaced as recoverable.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
