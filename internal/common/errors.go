// Package common defines shared constants and sentinel errors used across
// qrkeeper layers. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")

	// Service-level errors.
	ErrorInternal           = errors.New("internal error")
	ErrorInvalidCredentials = errors.New("incorrect email or password")
	ErrorAccountDisabled    = errors.New("account disabled")
	ErrorUnauthenticated    = errors.New("unauthenticated")
	ErrorForbidden          = errors.New("forbidden")

	// Request content errors.
	ErrorInvalidPayload = errors.New("invalid payload")
	ErrorValidation     = errors.New("validation error")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired = errors.New("token expired")
)
