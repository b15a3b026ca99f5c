package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

// PasscodeStore keeps passcodes in a map guarded by a single mutex, which
// also makes MarkUsed's check-and-set atomic.
type PasscodeStore struct {
	mu    sync.RWMutex
	codes map[string]store.PasscodeRecord
}

func NewPasscodeStore() *PasscodeStore {
	return &PasscodeStore{codes: make(map[string]store.PasscodeRecord)}
}

func (s *PasscodeStore) InsertMain(_ context.Context, rec store.PasscodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveDuplicate(rec, false) {
		return store.ErrDuplicateCode
	}
	for id, r := range s.codes {
		if r.IsMain {
			r.IsMain = false
			s.codes[id] = r
		}
	}
	rec.IsMain = true
	rec.IsOneTime = false
	s.codes[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *PasscodeStore) Insert(_ context.Context, rec store.PasscodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveDuplicate(rec, true) {
		return store.ErrDuplicateCode
	}
	rec.IsMain = false
	s.codes[rec.ID] = cloneRecord(rec)
	return nil
}

// liveDuplicate reports a live record sharing rec's digest.  Callers hold
// s.mu.
func (s *PasscodeStore) liveDuplicate(rec store.PasscodeRecord, includeMain bool) bool {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, r := range s.codes {
		if r.IsMain && !includeMain {
			continue
		}
		if r.CodeHash == rec.CodeHash && r.ActiveAt(at) {
			return true
		}
	}
	return false
}

func (s *PasscodeStore) ListActive(_ context.Context, now time.Time) ([]store.PasscodeRecord, error) {
	return s.filter(func(r store.PasscodeRecord) bool { return r.ActiveAt(now) }), nil
}

func (s *PasscodeStore) ListAll(_ context.Context) ([]store.PasscodeRecord, error) {
	return s.filter(func(store.PasscodeRecord) bool { return true }), nil
}

func (s *PasscodeStore) FindByHash(_ context.Context, codeHash string) ([]store.PasscodeRecord, error) {
	return s.filter(func(r store.PasscodeRecord) bool { return r.CodeHash == codeHash }), nil
}

func (s *PasscodeStore) Get(_ context.Context, id string) (store.PasscodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.codes[id]
	if !ok {
		return store.PasscodeRecord{}, store.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *PasscodeStore) GetMain(_ context.Context) (store.PasscodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.codes {
		if r.IsMain {
			return cloneRecord(r), nil
		}
	}
	return store.PasscodeRecord{}, store.ErrNotFound
}

func (s *PasscodeStore) MarkUsed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.codes[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if r.Used {
		return false, nil
	}
	r.Used = true
	s.codes[id] = r
	return true, nil
}

func (s *PasscodeStore) UpdateCiphertext(_ context.Context, id string, ciphertext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.codes[id]
	if !ok {
		return store.ErrNotFound
	}
	r.CodeEncrypted = append([]byte(nil), ciphertext...)
	s.codes[id] = r
	return nil
}

func (s *PasscodeStore) DeleteGuest(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.codes[id]
	if !ok || r.IsMain {
		return false, nil
	}
	delete(s.codes, id)
	return true, nil
}

func (s *PasscodeStore) PruneExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.codes {
		if !r.IsMain && r.ValidUntil != nil && r.ValidUntil.Before(cutoff) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}

func (s *PasscodeStore) filter(keep func(store.PasscodeRecord) bool) []store.PasscodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.PasscodeRecord, 0, len(s.codes))
	for _, r := range s.codes {
		if keep(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func cloneRecord(r store.PasscodeRecord) store.PasscodeRecord {
	if r.CodeEncrypted != nil {
		r.CodeEncrypted = append([]byte(nil), r.CodeEncrypted...)
	}
	return r
}
