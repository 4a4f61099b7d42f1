package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// flakyStore fails the next Put calls with the queued errors.
type flakyStore struct {
	*subscription.MemoryStore
	mu       sync.Mutex
	failures []error
	puts     int
}

func (s *flakyStore) failNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *flakyStore) Put(ctx context.Context, rec *subscription.Record, expectedVersion int64) error {
	s.mu.Lock()
	s.puts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.MemoryStore.Put(ctx, rec, expectedVersion)
}

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) Transitioned(cause string, from, to subscription.StateKind) {
	m.Called(cause, from, to)
}

func (m *mockObserver) VersionConflict() { m.Called() }

func (m *mockObserver) WebhookProcessed(eventType subscription.EventType, outcome string) {
	m.Called(eventType, outcome)
}

func (m *mockObserver) Expired(count int) { m.Called(count) }

func seedActive(t *testing.T, store subscription.Store, userID string, plan subscription.Plan, start, end time.Time) *subscription.Record {
	t.Helper()
	rec := &subscription.Record{
		ID:                 uuid.New(),
		UserID:             userID,
		Plan:               plan,
		Status:             subscription.StatusActive,
		IsActive:           true,
		StartDate:          start,
		EndDate:            &end,
		ExternalPaymentRef: "sub_" + userID,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	require.NoError(t, store.Put(context.Background(), rec, 0))
	return rec
}

func newTestController(store subscription.Store, clock *testClock, opts ...subscription.ControllerOption) *subscription.Controller {
	opts = append([]subscription.ControllerOption{subscription.WithClock(clock.Now)}, opts...)
	return subscription.NewController(store, nil, opts...)
}
