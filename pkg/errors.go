// Package pkg holds utilities shared across the server layers.
// This file defines the domain-level errors.
//
// Errors are plain sentinel values so callers compare by identity instead of
// by string:
//
//	if errors.Is(err, pkg.ErrNotFound) { ... }
package pkg

import "errors"

// Domain-level errors.
// Handlers map these to HTTP status codes; services return them wrapped.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrInternal      = errors.New("internal error")

	// ErrConflict: a limit was reached (pins) or a revision precondition failed.
	ErrConflict = errors.New("conflict")

	// ErrRateLimited: the caller sent too much, too fast.
	ErrRateLimited = errors.New("rate limited")

	// ErrConcurrencyExhausted: a bounded retry loop ran out of attempts.
	// The outcome of the write is uncertain and must be surfaced to the user.
	ErrConcurrencyExhausted = errors.New("failed after retries")
)
