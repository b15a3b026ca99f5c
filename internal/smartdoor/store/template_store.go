package store

import (
	"context"
	"time"
)

type TemplateKind string

const (
	TemplateFace        TemplateKind = "face"
	TemplateFingerprint TemplateKind = "fingerprint"
)

func (k TemplateKind) Valid() bool {
	return k == TemplateFace || k == TemplateFingerprint
}

// TemplateRecord is an enrolled biometric template.  Blob is opaque to the
// store; the recognition package owns its encoding.
type TemplateRecord struct {
	ID        string
	Kind      TemplateKind
	Label     string
	Blob      []byte
	CreatedAt time.Time
}

type TemplateStore interface {
	InsertTemplate(ctx context.Context, rec TemplateRecord) error
	ListTemplates(ctx context.Context, kind TemplateKind) ([]TemplateRecord, error)
	DeleteTemplate(ctx context.Context, id string) (bool, error)
	DeleteTemplatesByLabel(ctx context.Context, kind TemplateKind, label string) (int64, error)
}
