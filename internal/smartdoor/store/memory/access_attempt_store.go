package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// AccessAttemptStore is an in-memory append-only log of access decisions.
// It is intended for use in tests and dev environments.
type AccessAttemptStore struct {
	mu       sync.Mutex
	attempts []store.AccessAttemptRecord
	seen     map[string]struct{}
}

func NewAccessAttemptStore() *AccessAttemptStore {
	return &AccessAttemptStore{seen: make(map[string]struct{})}
}

func (s *AccessAttemptStore) RecordAttempt(_ context.Context, rec store.AccessAttemptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID != "" {
		if _, dup := s.seen[rec.ID]; dup {
			return nil
		}
		s.seen[rec.ID] = struct{}{}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	s.attempts = append(s.attempts, rec)
	return nil
}

func (s *AccessAttemptStore) ListAttempts(_ context.Context, from, to time.Time) ([]store.AccessAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.AccessAttemptRecord
	for _, a := range s.attempts {
		if !a.Timestamp.Before(from) && a.Timestamp.Before(to) {
			out = append(out, a)
		}
	}
	newestFirst(out)
	return out, nil
}

func (s *AccessAttemptStore) RecentGranted(_ context.Context, limit int) ([]store.AccessAttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.AccessAttemptRecord
	for _, a := range s.attempts {
		if a.Result == types.ResultGranted {
			out = append(out, a)
		}
	}
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Attempts returns a copy of all recorded attempts in insertion order.
// Test-only helper.
func (s *AccessAttemptStore) Attempts() []store.AccessAttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.AccessAttemptRecord, len(s.attempts))
	copy(out, s.attempts)
	return out
}

func newestFirst(recs []store.AccessAttemptRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp.After(recs[j].Timestamp)
	})
}
