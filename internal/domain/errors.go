package domain

import "errors"

var (
	// ErrStoreUnavailable signals that the persistent store cannot be reached.
	// Queue operations fail closed on it; the driver skips the tick and producers retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidConfirmation rejects a flush request without the exact confirmation token.
	// Flush is destructive, so a missing token must have no side effects.
	ErrInvalidConfirmation = errors.New("invalid confirmation token")
	// ErrNotFound is returned for a manual dispatch index that no longer maps to a
	// pending item, including the case where a concurrent driver checked it out first.
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidInput = errors.New("invalid input")
)
