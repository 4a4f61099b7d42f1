package subscription

import (
	"context"
	"sync"
	"time"
)

// ClaimState is what the ledger knows about a delivery.
type ClaimState int

const (
	// ClaimAcquired means the caller holds a fresh claim on the delivery.
	ClaimAcquired ClaimState = iota
	// ClaimPending means an earlier delivery claimed the key but never
	// committed. It may still be in flight or may have died.
	ClaimPending
	// ClaimCommitted means the delivery was applied and committed.
	ClaimCommitted
)

func (s ClaimState) String() string {
	switch s {
	case ClaimAcquired:
		return "acquired"
	case ClaimPending:
		return "pending"
	case ClaimCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// EventLedger remembers processor deliveries in two phases. Claim takes a
// short lease on a key that is not yet held. Commit marks the key as applied
// for ttl once the record write has succeeded. Release forgets a claim so a
// failed delivery can be retried.
type EventLedger interface {
	Claim(ctx context.Context, key string, lease time.Duration) (ClaimState, error)
	Commit(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type ledgerEntry struct {
	expires   time.Time
	committed bool
}

// MemoryLedger is an in-process EventLedger.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]ledgerEntry
	now     func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]ledgerEntry), now: time.Now}
}

func (l *MemoryLedger) Claim(_ context.Context, key string, lease time.Duration) (ClaimState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok && now.Before(e.expires) {
		if e.committed {
			return ClaimCommitted, nil
		}
		return ClaimPending, nil
	}
	l.entries[key] = ledgerEntry{expires: now.Add(lease)}

	// Opportunistic cleanup keeps the map bounded by live entries.
	if len(l.entries)%1024 == 0 {
		for k, e := range l.entries {
			if !now.Before(e.expires) {
				delete(l.entries, k)
			}
		}
	}
	return ClaimAcquired, nil
}

func (l *MemoryLedger) Commit(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = ledgerEntry{expires: l.now().Add(ttl), committed: true}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
	return nil
}
