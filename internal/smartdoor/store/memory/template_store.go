package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]store.TemplateRecord
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]store.TemplateRecord)}
}

func (s *TemplateStore) InsertTemplate(_ context.Context, rec store.TemplateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Blob = append([]byte(nil), rec.Blob...)
	s.templates[rec.ID] = rec
	return nil
}

func (s *TemplateStore) ListTemplates(_ context.Context, kind store.TemplateKind) ([]store.TemplateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.TemplateRecord
	for _, t := range s.templates {
		if t.Kind == kind {
			t.Blob = append([]byte(nil), t.Blob...)
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *TemplateStore) DeleteTemplate(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return false, nil
	}
	delete(s.templates, id)
	return true, nil
}

func (s *TemplateStore) DeleteTemplatesByLabel(_ context.Context, kind store.TemplateKind, label string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.templates {
		if t.Kind == kind && t.Label == label {
			delete(s.templates, id)
			n++
		}
	}
	return n, nil
}
