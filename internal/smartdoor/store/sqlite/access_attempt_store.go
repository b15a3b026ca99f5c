package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

type AccessAttemptStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessAttemptStore(db *sql.DB, writer *dbpkg.Worker) *AccessAttemptStore {
	return &AccessAttemptStore{db: db, writer: writer}
}

// RecordAttempt appends rec.  A second insert with the same ID is ignored
// so a spooled attempt can be replayed safely.
func (s *AccessAttemptStore) RecordAttempt(ctx context.Context, rec store.AccessAttemptRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO access_log(
  id, method, result, reason, passcode_masked, passcode_hash, confidence, timestamp_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.ID, string(rec.Method), string(rec.Result), rec.Reason,
			strOrNil(rec.PasscodeMasked), strOrNil(rec.PasscodeHash),
			confidenceOrNil(rec.Confidence), rec.Timestamp.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordAttempt insert: %w", err)
		}
		return nil
	})
}

func (s *AccessAttemptStore) ListAttempts(ctx context.Context, from, to time.Time) ([]store.AccessAttemptRecord, error) {
	return s.query(ctx, `
SELECT id, method, result, reason, passcode_masked, passcode_hash, confidence, timestamp_ms
FROM access_log
WHERE timestamp_ms >= ? AND timestamp_ms < ?
ORDER BY timestamp_ms DESC, rowid DESC;
`, from.UTC().UnixMilli(), to.UTC().UnixMilli())
}

func (s *AccessAttemptStore) RecentGranted(ctx context.Context, limit int) ([]store.AccessAttemptRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return s.query(ctx, `
SELECT id, method, result, reason, passcode_masked, passcode_hash, confidence, timestamp_ms
FROM access_log
WHERE result = ?
ORDER BY timestamp_ms DESC, rowid DESC
LIMIT ?;
`, string(types.ResultGranted), limit)
}

func (s *AccessAttemptStore) query(ctx context.Context, q string, args ...any) ([]store.AccessAttemptRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query access_log: %w", err)
	}
	defer rows.Close()

	var out []store.AccessAttemptRecord
	for rows.Next() {
		var (
			r              store.AccessAttemptRecord
			method, result string
			masked, hash   sql.NullString
			confidence     sql.NullFloat64
			tsMs           int64
		)
		if err := rows.Scan(&r.ID, &method, &result, &r.Reason, &masked, &hash, &confidence, &tsMs); err != nil {
			return nil, fmt.Errorf("scan access_log: %w", err)
		}
		r.Method = types.Method(method)
		r.Result = types.Result(result)
		r.PasscodeMasked = strPtr(masked)
		r.PasscodeHash = strPtr(hash)
		r.Confidence = floatPtr(confidence)
		r.Timestamp = timeFromMs(tsMs)
		out = append(out, r)
	}
	return out, rows.Err()
}
