package repositories

import "errors"

var (
	// ErrAccountNotFound is returned when no tenant account exists for the
	// given tenant id or external reference.
	ErrAccountNotFound = errors.New("tenant account not found")

	// ErrInsufficientCredits is returned when a debit would drive a credit
	// pool below zero. The balances are left unchanged.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrConcurrentModification is returned when the optimistic version check
	// keeps failing after bounded retries.
	ErrConcurrentModification = errors.New("concurrent modification retries exceeded")

	// ErrDuplicateEvent is returned when a webhook event id has already been
	// recorded. Callers treat it as an idempotent no-op, not a failure.
	ErrDuplicateEvent = errors.New("event already processed")
)
