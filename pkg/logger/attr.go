package logger

import (
	"log/slog"
	"time"
)

// Error records err under "error". Nil errors produce an empty attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the subscription owner.
func UserID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("user_id", id)
}

// RequestID records the request correlation id.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// EventType records a processor or lifecycle event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// EventID records a processor event id.
func EventID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("event_id", id)
}

// ExternalRef records the payment processor correlation id.
func ExternalRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("external_ref", ref)
}

// Plan records a subscription plan.
func Plan(plan string) slog.Attr {
	return slog.String("plan", plan)
}

// State records a lifecycle state name.
func State(name string) slog.Attr {
	return slog.String("state", name)
}

// Transition groups the from/to pair of a lifecycle move.
func Transition(from, to string) slog.Attr {
	return slog.Group("transition", slog.String("from", from), slog.String("to", to))
}

// Reason records an entitlement reason code.
func Reason(code string) slog.Attr {
	return slog.String("reason", code)
}

// Component names the emitting subsystem.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
