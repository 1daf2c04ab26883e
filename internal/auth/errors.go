package auth

import "errors"

// Domain errors.
var (
	ErrInvalidKey   = errors.New("invalid API key")
	ErrTokenInvalid = errors.New("invalid token")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrUnknownRole  = errors.New("unknown role")
)
