package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/events"
	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, msg events.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockPublisher) Close() error {
	return m.Called().Error(0)
}

func change() subscription.Change {
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return subscription.Change{
		UserID: "u1",
		Cause:  "cancel",
		From:   subscription.StateActive,
		To:     subscription.StatePendingCancellation,
		Record: &subscription.Record{
			ID:                 uuid.MustParse("7b0c6f1e-1a52-4a4e-9d7f-0f1c2a3b4c5d"),
			UserID:             "u1",
			Plan:               subscription.PlanMonthly,
			Status:             subscription.StatusCanceled,
			IsActive:           true,
			CancelationType:    subscription.CancelEndOfPeriod,
			EndDate:            &end,
			ExternalPaymentRef: "sub_1",
			Version:            3,
		},
	}
}

func TestNewSubscriptionChanged(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	msg := events.NewSubscriptionChanged(change(), at)

	assert.Equal(t, events.RoutingKeySubscriptionChanged, msg.RoutingKey)
	assert.Equal(t, at, msg.OccurredAt)
	assert.NotEmpty(t, msg.ID)

	body, ok := msg.Body.(events.SubscriptionChanged)
	require.True(t, ok)
	assert.Equal(t, "u1", body.UserID)
	assert.Equal(t, "7b0c6f1e-1a52-4a4e-9d7f-0f1c2a3b4c5d", body.SubscriptionID)
	assert.Equal(t, "active", body.From)
	assert.Equal(t, "pending_cancellation", body.To)
	assert.Equal(t, "canceled", body.Status)
	assert.True(t, body.IsActive)
	assert.Equal(t, int64(3), body.Version)
}

func TestChangeHook(t *testing.T) {
	t.Parallel()

	t.Run("publishes the change", func(t *testing.T) {
		t.Parallel()
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.MatchedBy(func(m events.Message) bool {
			body, ok := m.Body.(events.SubscriptionChanged)
			return ok && body.UserID == "u1" && body.Cause == "cancel"
		})).Return(nil).Once()

		events.ChangeHook(pub, logger.Noop())(context.Background(), change())
		pub.AssertExpectations(t)
	})

	t.Run("publish failures are swallowed", func(t *testing.T) {
		t.Parallel()
		pub := &mockPublisher{}
		pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

		assert.NotPanics(t, func() {
			events.ChangeHook(pub, logger.Noop())(context.Background(), change())
		})
		pub.AssertExpectations(t)
	})

	t.Run("canceled caller context does not cancel the publish", func(t *testing.T) {
		t.Parallel()
		pub := &mockPublisher{}
		pub.On("Publish", mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Err() == nil
		}), mock.Anything).Return(nil).Once()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		events.ChangeHook(pub, logger.Noop())(ctx, change())
		pub.AssertExpectations(t)
	})
}

func TestNewAMQPPublisher_Config(t *testing.T) {
	t.Parallel()

	_, err := events.NewAMQPPublisher(events.Config{}, logger.Noop())
	assert.ErrorIs(t, err, events.ErrMissingURL)

	_, err = events.NewAMQPPublisher(events.Config{URL: "http://localhost:5672"}, logger.Noop())
	assert.ErrorIs(t, err, events.ErrInvalidURL)

	assert.NoError(t, events.NoopPublisher{}.Publish(context.Background(), events.Message{}))
}
