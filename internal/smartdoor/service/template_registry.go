package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

var ErrInvalidTemplateKind = errors.New("template kind must be face or fingerprint")

// TemplateRegistry owns enrolled biometric templates.  The Authenticator
// only reads from it.
type TemplateRegistry struct {
	store store.TemplateStore
}

func NewTemplateRegistry(st store.TemplateStore) *TemplateRegistry {
	return &TemplateRegistry{store: st}
}

func (r *TemplateRegistry) EnrollFace(ctx context.Context, label string, embedding []float32) (store.TemplateRecord, error) {
	blob, err := recognition.EncodeFace(embedding)
	if err != nil {
		return store.TemplateRecord{}, err
	}
	return r.insert(ctx, store.TemplateFace, label, blob)
}

func (r *TemplateRegistry) EnrollFingerprint(ctx context.Context, label string, slot int) (store.TemplateRecord, error) {
	blob, err := recognition.EncodeFingerprint(slot)
	if err != nil {
		return store.TemplateRecord{}, err
	}
	return r.insert(ctx, store.TemplateFingerprint, label, blob)
}

func (r *TemplateRegistry) insert(ctx context.Context, kind store.TemplateKind, label string, blob []byte) (store.TemplateRecord, error) {
	rec := store.TemplateRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Label:     strings.TrimSpace(label),
		Blob:      blob,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertTemplate(ctx, rec); err != nil {
		return store.TemplateRecord{}, err
	}
	return rec, nil
}

func (r *TemplateRegistry) List(ctx context.Context, kind store.TemplateKind) ([]store.TemplateRecord, error) {
	if !kind.Valid() {
		return nil, ErrInvalidTemplateKind
	}
	return r.store.ListTemplates(ctx, kind)
}

func (r *TemplateRegistry) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrNotFound
	}
	ok, err := r.store.DeleteTemplate(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// DeleteByLabel removes every template of kind enrolled under label.
func (r *TemplateRegistry) DeleteByLabel(ctx context.Context, kind store.TemplateKind, label string) (int64, error) {
	if !kind.Valid() {
		return 0, ErrInvalidTemplateKind
	}
	return r.store.DeleteTemplatesByLabel(ctx, kind, strings.TrimSpace(label))
}
