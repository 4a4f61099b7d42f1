package subscription

import "errors"

// User-facing precondition errors.
var (
	ErrNoActiveSubscription  = errors.New("no active subscription")
	ErrAlreadyCanceled       = errors.New("subscription is already canceled")
	ErrNotReactivatable      = errors.New("subscription cannot be reactivated")
	ErrInvalidPlanTransition = errors.New("invalid plan transition")
	ErrInvalidPlan           = errors.New("invalid plan")
	ErrAlreadySubscribed     = errors.New("user already has a subscription")
)

// Storage and consistency errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrVersionConflict      = errors.New("subscription version conflict")
	ErrTransient            = errors.New("subscription is being modified concurrently, retry the operation")
	ErrInvalidRecord        = errors.New("invalid subscription record")
)

// Processor event errors.
var (
	ErrInvalidEvent              = errors.New("invalid subscription event")
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMissingWebhookSecret      = errors.New("webhook secret is required")
	ErrInvalidCatalog            = errors.New("invalid plan catalog")
)
