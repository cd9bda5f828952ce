package mail

import "errors"

// Failure taxonomy shared across the core. Every failure is returned to the
// immediate caller as a wrapped sentinel; the transport layer translates it
// into protocol-specific responses (SMTP reply codes, API status codes).
// The core never retries internally.
var (
	// ErrParseFailed marks malformed input mail. Nothing is persisted.
	ErrParseFailed = errors.New("parse failed")

	// ErrStorageFailed marks an unavailable or failing mail/blob store.
	ErrStorageFailed = errors.New("storage failed")

	// ErrValidation marks a rejected call argument combination. The call
	// performs no store access.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an absent record. Lookups and deletes of absent
	// ids are not failures at the API surface; stores report absence with
	// this sentinel and callers translate it into an empty result.
	ErrNotFound = errors.New("not found")
)
