package entitlement_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func record(status subscription.Status, active bool, cancel subscription.CancelationType, end time.Time) *subscription.Record {
	return &subscription.Record{
		ID:                 uuid.New(),
		UserID:             "u1",
		Plan:               subscription.PlanMonthly,
		Status:             status,
		IsActive:           active,
		CancelationType:    cancel,
		StartDate:          date(2025, 5, 1),
		EndDate:            &end,
		ExternalPaymentRef: "sub_1",
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	end := date(2025, 6, 1)
	now := date(2025, 5, 10)

	tests := []struct {
		name string
		role entitlement.Role
		rec  *subscription.Record
		now  time.Time
		want entitlement.Decision
	}{
		{
			name: "anonymous visitor",
			role: entitlement.RoleVisitor,
			now:  now,
			want: entitlement.Decision{Reason: entitlement.ReasonNoSubscription},
		},
		{
			name: "admin override without record",
			role: entitlement.RoleAdmin,
			now:  now,
			want: entitlement.Decision{CanAccessPremium: true, Reason: entitlement.ReasonAdminOverride},
		},
		{
			name: "admin override beats suspension",
			role: entitlement.RoleAdmin,
			rec:  record(subscription.StatusSuspended, false, "", end),
			now:  now,
			want: entitlement.Decision{CanAccessPremium: true, Reason: entitlement.ReasonAdminOverride},
		},
		{
			name: "premium role with suspended payment",
			role: entitlement.RolePremium,
			rec:  record(subscription.StatusSuspended, false, "", end),
			now:  now,
			want: entitlement.Decision{Reason: entitlement.ReasonPaymentSuspended},
		},
		{
			name: "active",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusActive, true, "", end),
			now:  now,
			want: entitlement.Decision{CanAccessPremium: true, Reason: entitlement.ReasonActive},
		},
		{
			name: "trialing",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusTrialing, true, "", end),
			now:  now,
			want: entitlement.Decision{CanAccessPremium: true, Reason: entitlement.ReasonActive},
		},
		{
			name: "pending cancellation before end date",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusCanceled, true, subscription.CancelEndOfPeriod, end),
			now:  now,
			want: entitlement.Decision{CanAccessPremium: true, Reason: entitlement.ReasonActivePendingCancellation},
		},
		{
			name: "pending cancellation at end date before reconciliation",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusCanceled, true, subscription.CancelEndOfPeriod, end),
			now:  end,
			want: entitlement.Decision{Reason: entitlement.ReasonExpired, ReconcileDue: true},
		},
		{
			name: "pending cancellation after reconciliation",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusCanceled, false, subscription.CancelEndOfPeriod, end),
			now:  date(2025, 6, 2),
			want: entitlement.Decision{Reason: entitlement.ReasonExpired},
		},
		{
			name: "canceled immediately",
			role: entitlement.RolePremium,
			rec:  record(subscription.StatusCanceled, false, subscription.CancelImmediate, now),
			now:  now,
			want: entitlement.Decision{Reason: entitlement.ReasonExpired},
		},
		{
			name: "incomplete checkout",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusIncomplete, false, "", end),
			now:  now,
			want: entitlement.Decision{Reason: entitlement.ReasonExpired},
		},
		{
			name: "malformed record",
			role: entitlement.RoleUser,
			rec:  record(subscription.StatusCanceled, true, "", end),
			now:  now,
			want: entitlement.Decision{Reason: entitlement.ReasonNoSubscription},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entitlement.Evaluate(tt.role, tt.rec, tt.now))
		})
	}
}

func TestEvaluate_DoesNotMutate(t *testing.T) {
	t.Parallel()
	rec := record(subscription.StatusCanceled, true, subscription.CancelEndOfPeriod, date(2025, 6, 1))
	before := *rec.Clone()

	entitlement.Evaluate(entitlement.RoleUser, rec, date(2025, 7, 1))

	assert.Equal(t, before.IsActive, rec.IsActive)
	assert.Equal(t, before.Status, rec.Status)
	assert.Equal(t, *before.EndDate, *rec.EndDate)
}

func TestParseRole(t *testing.T) {
	t.Parallel()
	assert.Equal(t, entitlement.RoleAdmin, entitlement.ParseRole("ADMIN"))
	assert.Equal(t, entitlement.RolePremium, entitlement.ParseRole(" premium "))
	assert.Equal(t, entitlement.RoleUser, entitlement.ParseRole("user"))
	assert.Equal(t, entitlement.RoleVisitor, entitlement.ParseRole(""))
	assert.Equal(t, entitlement.RoleVisitor, entitlement.ParseRole("root"))
}
