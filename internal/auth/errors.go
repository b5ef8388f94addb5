package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("auth: not found")
	ErrConflict        = errors.New("auth: already exists")
	ErrInvalidInput    = errors.New("auth: invalid input")
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	ErrForbidden       = errors.New("auth: insufficient permissions")
)

// Reasons a request or credential is rejected. Each wraps ErrUnauthenticated
// so callers can map the whole family to a single status.
var (
	ErrNoToken            = fmt.Errorf("%w: no token", ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrUnauthenticated)
	ErrSessionExpired     = fmt.Errorf("%w: session expired", ErrUnauthenticated)
	ErrAccountInactive    = fmt.Errorf("%w: user not found or inactive", ErrUnauthenticated)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	ErrInvalidMagicLink   = fmt.Errorf("%w: invalid or expired link", ErrUnauthenticated)
)

// ErrPasswordNotSet marks a password login against a link-only account. Its
// message is that of ErrInvalidCredentials so the response reveals nothing.
var ErrPasswordNotSet = fmt.Errorf("%w", ErrInvalidCredentials)
