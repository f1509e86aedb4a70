// Package admission implements the controls applied before intake work is
// accepted: API key authentication, fixed-window rate limiting, and the
// in-process concurrency gate.
package admission

import "errors"

var (
	// ErrUnauthenticated is returned for malformed, unknown or mismatched keys.
	ErrUnauthenticated = errors.New("invalid api key")
	// ErrForbidden is returned when the resolved client is disabled.
	ErrForbidden = errors.New("client disabled")
	// ErrTooManyUploads is returned when a client has no free concurrency slot.
	// Distinct from rate limiting: the caller may retry as soon as an
	// in-flight upload finishes.
	ErrTooManyUploads = errors.New("too many concurrent uploads")
	// ErrDuplicateInFlight is returned when another request holds the lock for
	// the same logical document.
	ErrDuplicateInFlight = errors.New("duplicate submission in flight")
)
