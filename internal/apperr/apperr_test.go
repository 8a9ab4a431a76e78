package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		kind   string
		status int
	}{
		{fmt.Errorf("%w: qty must be positive", ErrValidation), "ValidationError", http.StatusBadRequest},
		{fmt.Errorf("buy AAPL: %w", ErrInsufficientFunds), "InsufficientFunds", http.StatusUnprocessableEntity},
		{ErrInsufficientHoldings, "InsufficientHoldings", http.StatusUnprocessableEntity},
		{ErrAccountDisabled, "AccountDisabled", http.StatusForbidden},
		{ErrPriceUnavailable, "PriceUnavailable", http.StatusServiceUnavailable},
		{fmt.Errorf("commit: %w", ErrConflict), "Conflict", http.StatusConflict},
		{ErrInvalidState, "InvalidState", http.StatusUnprocessableEntity},
		{ErrNotFound, "NotFound", http.StatusNotFound},
		{errors.New("disk on fire"), "Internal", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, Kind(tt.err), tt.err.Error())
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestOnlyConflictIsRetryable(t *testing.T) {
	for _, k := range kinds {
		if k.err == ErrConflict {
			continue
		}
		assert.NotEqual(t, http.StatusConflict, k.status, k.name)
	}
}

func TestIsKnown(t *testing.T) {
	assert.True(t, IsKnown(fmt.Errorf("x: %w", ErrNotFound)))
	assert.False(t, IsKnown(errors.New("boom")))
}
