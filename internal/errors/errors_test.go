package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError("records", 422, "reason required")
	assert.Contains(t, err.Error(), "records")
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "reason required")
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := &APIError{Service: "records", StatusCode: 502, Message: "bad gateway", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestTransitionError_Error(t *testing.T) {
	err := &TransitionError{Action: "reject", Status: "VALIDATED"}
	assert.Contains(t, err.Error(), "reject")
	assert.Contains(t, err.Error(), "VALIDATED")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transient", ErrTransient, true},
		{"wrapped transient", fmt.Errorf("fetching: %w", ErrTransient), true},
		{"api 503", NewAPIError("records", 503, "unavailable"), true},
		{"api 429", NewAPIError("records", 429, "rate limit"), true},
		{"api 401", NewAPIError("records", 401, "unauthorized"), false},
		{"api 404", NewAPIError("records", 404, "not found"), false},
		{"forbidden", ErrForbidden, false},
		{"session expired", ErrSessionExpired, false},
		{"generic", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(ErrSessionExpired))
	assert.True(t, IsTerminal(fmt.Errorf("gateway: %w", ErrSessionExpired)))
	assert.False(t, IsTerminal(ErrForbidden))
	assert.False(t, IsTerminal(ErrTransient))
	assert.False(t, IsTerminal(nil))
}
