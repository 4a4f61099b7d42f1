package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/logger"
	"github.com/dmitrymomot/entitlements/pkg/subscription"
)

// Publisher sends messages to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// NoopPublisher discards every message.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Message) error { return nil }
func (NoopPublisher) Close() error                           { return nil }

const publishTimeout = 5 * time.Second

// ChangeHook publishes a SubscriptionChanged message for every committed write.
// Failures are logged; they never affect the write.
func ChangeHook(p Publisher, log *slog.Logger) subscription.ChangeHook {
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, ch subscription.Change) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		msg := NewSubscriptionChanged(ch, time.Now())
		if err := p.Publish(ctx, msg); err != nil {
			log.WarnContext(ctx, "failed to publish subscription change",
				logger.UserID(ch.UserID),
				slog.String("cause", ch.Cause),
				logger.Error(err))
		}
	}
}
