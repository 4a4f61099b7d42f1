package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// RecordGetter loads a user's current subscription record.
type RecordGetter interface {
	Get(ctx context.Context, userID string) (*subscription.Record, error)
}

// DecisionObserver receives every decision the Gate makes.
type DecisionObserver interface {
	Decided(surface Surface, d Decision)
}

// StaleHook is called when a read sees a lapsed grant that storage has not
// caught up with. It must not block; typically it schedules reconciliation.
type StaleHook func(ctx context.Context, userID string)

// Gate is the single entry point every content surface uses to ask whether
// the caller may see it. It never writes.
type Gate struct {
	store    RecordGetter
	now      func() time.Time
	log      *slog.Logger
	onStale  StaleHook
	observer DecisionObserver
	denied   DeniedHandler
}

// GateOption configures a Gate.
type GateOption func(*Gate)

func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

// WithStaleHook sets the hook invoked at most once per request and user when a
// lapsed grant is read.
func WithStaleHook(h StaleHook) GateOption {
	return func(g *Gate) { g.onStale = h }
}

func WithDecisionObserver(o DecisionObserver) GateOption {
	return func(g *Gate) { g.observer = o }
}

// WithDeniedHandler replaces the response written by Require on denial.
func WithDeniedHandler(h DeniedHandler) GateOption {
	return func(g *Gate) {
		if h != nil {
			g.denied = h
		}
	}
}

// NewGate panics when store is nil.
func NewGate(store RecordGetter, opts ...GateOption) *Gate {
	if store == nil {
		panic("entitlement: record store is required")
	}
	g := &Gate{
		store:  store,
		now:    time.Now,
		log:    slog.Default(),
		denied: DefaultDeniedHandler,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Entitlement evaluates premium access for subj. When the store fails the
// decision denies access and the error wraps ErrUnavailable.
func (g *Gate) Entitlement(ctx context.Context, subj Subject) (Decision, error) {
	if subj.Role == RoleAdmin || subj.UserID == "" {
		return Evaluate(subj.Role, nil, g.now()), nil
	}

	rec, err := cacheFromContext(ctx).load(subj.UserID, func() (*subscription.Record, error) {
		rec, err := g.store.Get(ctx, subj.UserID)
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return rec, err
	})
	if err != nil {
		g.log.ErrorContext(ctx, "failed to load subscription for entitlement check",
			logger.UserID(subj.UserID),
			logger.Error(err))
		return Decision{Reason: ReasonNoSubscription}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	d := Evaluate(subj.Role, rec, g.now())
	if d.ReconcileDue && g.onStale != nil && cacheFromContext(ctx).markStale(subj.UserID) {
		g.onStale(ctx, subj.UserID)
	}
	return d, nil
}

// Check decides access to one surface. The admin surface requires the admin
// role; every other surface requires premium access.
func (g *Gate) Check(ctx context.Context, surface Surface, subj Subject) (Decision, error) {
	if !surface.Valid() {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownSurface, surface)
	}

	var (
		d   Decision
		err error
	)
	if surface.adminOnly() {
		d = Decision{Reason: ReasonAdminRequired}
		if subj.Role == RoleAdmin {
			d = Decision{CanAccessPremium: true, Reason: ReasonAdminOverride}
		}
	} else {
		d, err = g.Entitlement(ctx, subj)
	}

	if g.observer != nil {
		g.observer.Decided(surface, d)
	}
	return d, err
}

// CanAccess is Check reduced to a yes/no. Errors deny.
func (g *Gate) CanAccess(ctx context.Context, surface Surface, subj Subject) bool {
	d, err := g.Check(ctx, surface, subj)
	return err == nil && d.CanAccessPremium
}
