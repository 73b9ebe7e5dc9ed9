// Package apierr defines the platform's error taxonomy and the single
// place that maps an error to an HTTP status code, so every handler's
// error branch reduces to one call instead of repeating a status-code
// switch per endpoint.
package apierr

import (
	"errors"
	"net/http"

	"github.com/carbonledger/platform/internal/app/services/access"
	"github.com/carbonledger/platform/internal/app/services/calculation"
)

// ValidationError wraps one or more field-level validation failures.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	msg := e.Issues[0]
	for _, i := range e.Issues[1:] {
		msg += "; " + i
	}
	return msg
}

// AuthError indicates a missing or invalid credential.
type AuthError struct{ Reason string }

func (e *AuthError) Error() string { return "unauthenticated: " + e.Reason }

// NotFoundError indicates the referenced resource does not exist, or does
// not belong to the caller's tenant.
type NotFoundError struct{ Resource string }

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// ConflictError indicates a request that cannot be satisfied given existing
// state (e.g. an invitation already accepted).
type ConflictError struct{ Reason string }

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

// RateLimitedError indicates a caller exceeded their rate-limit tier.
type RateLimitedError struct{ Tier string }

func (e *RateLimitedError) Error() string { return "rate limited: " + e.Tier }

// FatalTaskError indicates a background job failed in a way retrying will
// not fix; it drives dead-lettering rather than retry.
type FatalTaskError struct{ Reason string }

func (e *FatalTaskError) Error() string { return "fatal: " + e.Reason }

// StatusFor maps an error to the HTTP status code the public API returns
// for it, per the platform's error taxonomy. Unrecognised errors map to 500.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return http.StatusUnauthorized
	}
	var forbiddenErr *access.ForbiddenError
	if errors.As(err, &forbiddenErr) {
		return http.StatusForbidden
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound
	}
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusBadRequest
	}
	var rateLimitedErr *RateLimitedError
	if errors.As(err, &rateLimitedErr) {
		return http.StatusTooManyRequests
	}
	var providerErr *calculation.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.StatusCode
	}

	return http.StatusInternalServerError
}
