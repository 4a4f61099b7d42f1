package subscription

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	current map[string]*Record   // user id -> current lineage
	history map[string][]*Record // user id -> superseded lineages, oldest first
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		current: make(map[string]*Record),
		history: make(map[string][]*Record),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.current[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, rec *Record, expectedVersion int64) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.current[rec.UserID]
	var version int64
	if exists {
		version = cur.Version
	}
	if version != expectedVersion {
		return ErrVersionConflict
	}

	stored := rec.Clone()
	stored.SupersededAt = nil
	if exists && cur.ID != rec.ID {
		old := cur.Clone()
		old.SupersededAt = ptr(s.now())
		s.history[rec.UserID] = append(s.history[rec.UserID], old)
		stored.Version = 1
	} else {
		stored.Version = version + 1
	}

	s.current[rec.UserID] = stored
	rec.Version = stored.Version
	return nil
}

func (s *MemoryStore) FindByExternalRef(_ context.Context, ref string) (*Record, error) {
	if ref == "" {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.current {
		if rec.ExternalPaymentRef == ref {
			return rec.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) ListDueForExpiry(_ context.Context, now time.Time, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Record
	for _, rec := range s.current {
		if rec.State().DueForExpiry(now) {
			due = append(due, rec.Clone())
		}
	}
	slices.SortFunc(due, func(a, b *Record) int { return a.EndDate.Compare(*b.EndDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) History(_ context.Context, userID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.history[userID])+1)
	if cur, ok := s.current[userID]; ok {
		out = append(out, cur.Clone())
	}
	for _, rec := range slices.Backward(s.history[userID]) {
		out = append(out, rec.Clone())
	}
	return out, nil
}
