package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// WebhookParser verifies a processor delivery and normalizes it into an Event.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error)
	SignatureHeader() string
}

// PaddleConfig holds configuration for Paddle webhook ingestion.
type PaddleConfig struct {
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider turns Paddle Billing notifications into lifecycle events.
// It never calls the Paddle API: subscription changes flow from Paddle to the
// engine, not the other way around.
type PaddleProvider struct {
	verifier *paddle.WebhookVerifier
	catalog  *Catalog
	config   PaddleConfig
}

// NewPaddleProvider requires a webhook secret. Price ids in notifications are
// resolved to plans through catalog.
func NewPaddleProvider(config PaddleConfig, catalog *Catalog) (*PaddleProvider, error) {
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	switch strings.ToLower(config.Environment) {
	case "sandbox", "production", "":
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	return &PaddleProvider{
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		catalog:  catalog,
		config:   config,
	}, nil
}

// SignatureHeader is the header carrying the delivery signature.
func (p *PaddleProvider) SignatureHeader() string { return "Paddle-Signature" }

type paddleNotification struct {
	EventID    string     `json:"event_id"`
	EventType  string     `json:"event_type"`
	OccurredAt time.Time  `json:"occurred_at"`
	Data       paddleData `json:"data"`
}

type paddleData struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	Origin         string `json:"origin"`
	CustomData     struct {
		UserID string `json:"user_id"`
	} `json:"custom_data"`
	Items []struct {
		PriceID string `json:"price_id"`
		Price   struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	BillingPeriod        *paddlePeriod `json:"billing_period"`
	ScheduledChange      *struct {
		Action      string    `json:"action"`
		EffectiveAt time.Time `json:"effective_at"`
	} `json:"scheduled_change"`
}

type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// ParseWebhook verifies signature against payload and maps the notification.
// Notifications this engine has no rules for come back with Type EventUnknown.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return Event{}, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(p.SignatureHeader(), signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return Event{}, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return Event{}, ErrWebhookVerificationFailed
	}

	var n paddleNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return p.toEvent(n), nil
}

func (p *PaddleProvider) toEvent(n paddleNotification) Event {
	d := n.Data
	ev := Event{
		ID:           n.EventID,
		Type:         EventUnknown,
		ProviderType: n.EventType,
		UserID:       d.CustomData.UserID,
		OccurredAt:   n.OccurredAt,
	}

	for _, it := range d.Items {
		priceID := it.Price.ID
		if priceID == "" {
			priceID = it.PriceID
		}
		if plan, ok := p.catalog.PlanForPrice(priceID); ok {
			ev.Plan = plan
			break
		}
	}

	switch {
	case strings.HasPrefix(n.EventType, "subscription."):
		ev.ExternalPaymentRef = d.ID
		if d.CurrentBillingPeriod != nil {
			ev.PeriodEnd = ptr(d.CurrentBillingPeriod.EndsAt)
		}
		ev.Type = subscriptionEventType(n.EventType, d, &ev)

	case strings.HasPrefix(n.EventType, "transaction."):
		if d.SubscriptionID == "" {
			// One-off purchases carry no subscription.
			return ev
		}
		ev.ExternalPaymentRef = d.SubscriptionID
		if d.BillingPeriod != nil {
			ev.PeriodEnd = ptr(d.BillingPeriod.EndsAt)
		}
		switch n.EventType {
		case "transaction.completed", "transaction.paid":
			ev.Type = EventPaymentSucceeded
			if d.Origin == "subscription_recurring" {
				ev.Type = EventRenewed
			}
		case "transaction.payment_failed":
			ev.Type = EventPaymentFailed
		}
	}

	return ev
}

func subscriptionEventType(eventType string, d paddleData, ev *Event) EventType {
	switch eventType {
	case "subscription.created", "subscription.activated", "subscription.trialing":
		ev.Trialing = d.Status == "trialing"
		return EventCreated
	case "subscription.resumed":
		return EventPaymentSucceeded
	case "subscription.canceled":
		ev.Immediate = true
		return EventCanceled
	case "subscription.past_due", "subscription.paused":
		return EventPaymentFailed
	case "subscription.updated":
		switch d.Status {
		case "canceled":
			ev.Immediate = true
			return EventCanceled
		case "past_due", "paused":
			return EventPaymentFailed
		case "trialing":
			ev.Trialing = true
		}
		if sc := d.ScheduledChange; sc != nil && sc.Action == "cancel" {
			ev.PeriodEnd = ptr(sc.EffectiveAt)
			return EventCanceled
		}
		return EventUpdated
	}
	return EventUnknown
}
