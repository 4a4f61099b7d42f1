package subscription

import (
	"context"
	"time"
)

// Store persists subscription records.
//
// Get returns the user's current lineage or ErrSubscriptionNotFound.
// Put is a compare-and-swap against the version of the user's current record
// (0 when the user has none). Putting a record whose ID differs from the current
// one supersedes the current lineage in the same write. On success Put sets
// rec.Version to the stored version; on mismatch it returns ErrVersionConflict and
// stores nothing.
type Store interface {
	Get(ctx context.Context, userID string) (*Record, error)
	Put(ctx context.Context, rec *Record, expectedVersion int64) error
	FindByExternalRef(ctx context.Context, ref string) (*Record, error)
	ListDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*Record, error)
}

// HistoryReader lists every lineage of a user, newest first.
type HistoryReader interface {
	History(ctx context.Context, userID string) ([]*Record, error)
}
