// Package apperr defines the stable error kinds surfaced by the engine.
//
// Every externally visible failure wraps exactly one of the sentinels below,
// so callers can branch with errors.Is and the HTTP layer can map a failure
// to one status code without knowing where it came from.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrValidation           = errors.New("validation error")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrConflict             = errors.New("conflict")
	ErrInvalidState         = errors.New("invalid state")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
)

var kinds = []struct {
	err    error
	name   string
	status int
}{
	{ErrValidation, "ValidationError", http.StatusBadRequest},
	{ErrInsufficientFunds, "InsufficientFunds", http.StatusUnprocessableEntity},
	{ErrInsufficientHoldings, "InsufficientHoldings", http.StatusUnprocessableEntity},
	{ErrAccountDisabled, "AccountDisabled", http.StatusForbidden},
	{ErrPriceUnavailable, "PriceUnavailable", http.StatusServiceUnavailable},
	{ErrConflict, "Conflict", http.StatusConflict},
	{ErrInvalidState, "InvalidState", http.StatusUnprocessableEntity},
	{ErrNotFound, "NotFound", http.StatusNotFound},
	{ErrUnauthorized, "Unauthorized", http.StatusUnauthorized},
	{ErrForbidden, "Forbidden", http.StatusForbidden},
}

// Kind returns the stable name of the error kind wrapped by err, or
// "Internal" when err carries none of the known sentinels.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// HTTPStatus maps err to its response status. Only Conflict maps to 409;
// clients treat that class as retryable.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// IsKnown reports whether err wraps one of the stable kinds.
func IsKnown(err error) bool {
	return Kind(err) != "Internal"
}
