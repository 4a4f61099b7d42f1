package subscription

// Webhook processing outcomes reported to an Observer.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// Observer receives lifecycle telemetry. Implementations must be cheap and non-blocking.
type Observer interface {
	Transitioned(cause string, from, to StateKind)
	VersionConflict()
	WebhookProcessed(eventType EventType, outcome string)
	Expired(count int)
}

type noopObserver struct{}

func (noopObserver) Transitioned(string, StateKind, StateKind) {}
func (noopObserver) VersionConflict()                          {}
func (noopObserver) WebhookProcessed(EventType, string)        {}
func (noopObserver) Expired(int)                               {}
