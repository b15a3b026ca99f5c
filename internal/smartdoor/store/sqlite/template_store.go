package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

type TemplateStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewTemplateStore(db *sql.DB, writer *dbpkg.Worker) *TemplateStore {
	return &TemplateStore{db: db, writer: writer}
}

func (s *TemplateStore) InsertTemplate(ctx context.Context, rec store.TemplateRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO biometric_templates(id, kind, label, template_blob, created_at_ms)
VALUES (?, ?, ?, ?, ?);
`, rec.ID, string(rec.Kind), rec.Label, rec.Blob, rec.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("InsertTemplate %s: %w", rec.ID, err)
		}
		return nil
	})
}

func (s *TemplateStore) ListTemplates(ctx context.Context, kind store.TemplateKind) ([]store.TemplateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, label, template_blob, created_at_ms
FROM biometric_templates WHERE kind = ?
ORDER BY created_at_ms, id;
`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("ListTemplates: %w", err)
	}
	defer rows.Close()

	var out []store.TemplateRecord
	for rows.Next() {
		var (
			r         store.TemplateRecord
			k         string
			createdMs int64
		)
		if err := rows.Scan(&r.ID, &k, &r.Label, &r.Blob, &createdMs); err != nil {
			return nil, fmt.Errorf("ListTemplates scan: %w", err)
		}
		r.Kind = store.TemplateKind(k)
		r.CreatedAt = timeFromMs(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *TemplateStore) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM biometric_templates WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("DeleteTemplate %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		deleted = n > 0
		return err
	})
	return deleted, err
}

func (s *TemplateStore) DeleteTemplatesByLabel(ctx context.Context, kind store.TemplateKind, label string) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM biometric_templates WHERE kind = ? AND label = ?;`, string(kind), label)
		if err != nil {
			return fmt.Errorf("DeleteTemplatesByLabel %s: %w", label, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
