package subscription

import (
	"context"
	"log/slog"
	"time"
)

// Change describes a committed write. From is zero for a brand-new lineage.
type Change struct {
	UserID string
	Cause  string
	From   StateKind
	To     StateKind
	Record *Record
}

// ChangeHook is called after a write commits. It is notification only: the write
// is already durable and hook failures cannot undo it.
type ChangeHook func(ctx context.Context, ch Change)

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithLedger sets the delivery ledger and how long committed deliveries are
// remembered.
func WithLedger(l EventLedger, ttl time.Duration) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.ledger = l
		}
		if ttl > 0 {
			c.ledgerTTL = ttl
		}
	}
}

func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithChangeHook appends a post-commit hook.
func WithChangeHook(h ChangeHook) ControllerOption {
	return func(c *Controller) {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
}

// WithSerializer shares a Serializer, e.g. between controllers in tests.
func WithSerializer(s *Serializer) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.mailboxes = s
		}
	}
}
