package services

import "errors"

var (
	// ErrUnknownPlan is returned for a checkout request naming a plan that is
	// not in the pricing catalog.
	ErrUnknownPlan = errors.New("unknown subscription plan")

	// ErrUnknownPack is returned for a checkout request naming a top-off pack
	// that is not in the pricing catalog.
	ErrUnknownPack = errors.New("unknown top-off pack")

	// ErrMissingTenant is returned when a request carries no tenant id.
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrInvalidSignature is returned when a webhook payload fails HMAC
	// verification. Never retried by the provider.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedEvent is returned when an event is missing required
	// metadata. Retrying a malformed payload will never succeed, so the
	// handler maps this to a non-retryable client error.
	ErrMalformedEvent = errors.New("malformed webhook event")

	// ErrUnknownFeature is returned for a usage debit naming an unmetered
	// feature.
	ErrUnknownFeature = errors.New("unknown feature")
)
