package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/entitlements/pkg/auth"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// HTTPError is an HTTP status with a stable machine-readable key.
type HTTPError struct {
	Code int
	Key  string
}

func (e HTTPError) Error() string { return e.Key }

var (
	ErrBadRequest          = HTTPError{Code: http.StatusBadRequest, Key: "bad_request"}
	ErrUnauthorized        = HTTPError{Code: http.StatusUnauthorized, Key: "unauthorized"}
	ErrNotFound            = HTTPError{Code: http.StatusNotFound, Key: "not_found"}
	ErrUnknownSurface      = HTTPError{Code: http.StatusNotFound, Key: "unknown_surface"}
	ErrEntityTooLarge      = HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "request_entity_too_large"}
	ErrValidation          = HTTPError{Code: http.StatusUnprocessableEntity, Key: "validation_error"}
	ErrTooManyRequests     = HTTPError{Code: http.StatusTooManyRequests, Key: "too_many_requests"}
	ErrInternalServerError = HTTPError{Code: http.StatusInternalServerError, Key: "internal_server_error"}
	ErrServiceUnavailable  = HTTPError{Code: http.StatusServiceUnavailable, Key: "service_unavailable"}
)

// domainErrors maps engine errors to responses. Order matters: the first match wins.
var domainErrors = []struct {
	err  error
	resp HTTPError
}{
	{subscription.ErrSubscriptionNotFound, HTTPError{Code: http.StatusNotFound, Key: "subscription_not_found"}},
	{subscription.ErrNoActiveSubscription, HTTPError{Code: http.StatusNotFound, Key: "no_active_subscription"}},
	{subscription.ErrAlreadyCanceled, HTTPError{Code: http.StatusConflict, Key: "already_canceled"}},
	{subscription.ErrAlreadySubscribed, HTTPError{Code: http.StatusConflict, Key: "already_subscribed"}},
	{subscription.ErrNotReactivatable, HTTPError{Code: http.StatusUnprocessableEntity, Key: "not_reactivatable"}},
	{subscription.ErrInvalidPlanTransition, HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_plan_transition"}},
	{subscription.ErrInvalidPlan, HTTPError{Code: http.StatusUnprocessableEntity, Key: "invalid_plan"}},
	{subscription.ErrTransient, HTTPError{Code: http.StatusServiceUnavailable, Key: "concurrent_modification"}},
	{subscription.ErrWebhookVerificationFailed, HTTPError{Code: http.StatusUnauthorized, Key: "invalid_signature"}},
	{subscription.ErrInvalidEvent, HTTPError{Code: http.StatusBadRequest, Key: "invalid_event"}},
	{entitlement.ErrUnavailable, HTTPError{Code: http.StatusServiceUnavailable, Key: "entitlement_unavailable"}},
	{auth.ErrExpiredToken, HTTPError{Code: http.StatusUnauthorized, Key: "token_expired"}},
	{auth.ErrMissingToken, ErrUnauthorized},
	{auth.ErrInvalidToken, ErrUnauthorized},
	{auth.ErrMissingSubject, ErrUnauthorized},
}

// classify returns the response for err and whether the error is expected
// (a client or domain error rather than a failure worth logging).
func classify(err error) (HTTPError, bool) {
	var he HTTPError
	if errors.As(err, &he) {
		return he, he.Code < http.StatusInternalServerError
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return ErrValidation, true
	}
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			return d.resp, true
		}
	}
	return ErrInternalServerError, false
}
