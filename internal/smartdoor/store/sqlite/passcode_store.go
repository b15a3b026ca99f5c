package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

type PasscodeStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewPasscodeStore(db *sql.DB, writer *dbpkg.Worker) *PasscodeStore {
	return &PasscodeStore{db: db, writer: writer}
}

const passcodeColumns = `id, code_hash, code_encrypted, code_masked, is_main, is_one_time,
  valid_from_ms, valid_until_ms, used, created_at_ms`

func (s *PasscodeStore) InsertMain(ctx context.Context, rec store.PasscodeRecord) error {
	rec.IsMain = true
	rec.IsOneTime = false
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := checkDuplicate(ctx, tx, rec, false); err != nil {
			return err
		}
		// Demote first so the partial unique index on is_main holds.
		if _, err := tx.ExecContext(ctx, `UPDATE passcodes SET is_main = 0 WHERE is_main = 1;`); err != nil {
			return fmt.Errorf("InsertMain demote: %w", err)
		}
		return insertPasscode(ctx, tx, rec)
	})
}

func (s *PasscodeStore) Insert(ctx context.Context, rec store.PasscodeRecord) error {
	rec.IsMain = false
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := checkDuplicate(ctx, tx, rec, true); err != nil {
			return err
		}
		return insertPasscode(ctx, tx, rec)
	})
}

// checkDuplicate runs inside the insert transaction, so two concurrent
// inserts of the same digits cannot both pass.
func checkDuplicate(ctx context.Context, tx *sql.Tx, rec store.PasscodeRecord, includeMain bool) error {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	atMs := at.UTC().UnixMilli()
	var n int
	err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM passcodes
WHERE code_hash = ?
  AND ((is_main = 1 AND ? = 1)
    OR (is_main = 0 AND valid_until_ms IS NOT NULL AND valid_until_ms >= ?
        AND (valid_from_ms IS NULL OR valid_from_ms <= ?)
        AND (is_one_time = 0 OR used = 0)));`,
		rec.CodeHash, boolInt(includeMain), atMs, atMs).Scan(&n)
	if err != nil {
		return fmt.Errorf("check duplicate passcode: %w", err)
	}
	if n > 0 {
		return store.ErrDuplicateCode
	}
	return nil
}

func insertPasscode(ctx context.Context, tx *sql.Tx, rec store.PasscodeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO passcodes(`+passcodeColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		rec.ID, rec.CodeHash, rec.CodeEncrypted, rec.CodeMasked,
		boolInt(rec.IsMain), boolInt(rec.IsOneTime),
		msOrNil(rec.ValidFrom), msOrNil(rec.ValidUntil),
		boolInt(rec.Used), rec.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert passcode %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PasscodeStore) ListActive(ctx context.Context, now time.Time) ([]store.PasscodeRecord, error) {
	nowMs := now.UTC().UnixMilli()
	return s.query(ctx, `
SELECT `+passcodeColumns+` FROM passcodes
WHERE is_main = 1
   OR (valid_until_ms IS NOT NULL AND valid_until_ms >= ?
       AND (valid_from_ms IS NULL OR valid_from_ms <= ?)
       AND (is_one_time = 0 OR used = 0))
ORDER BY created_at_ms, id;`, nowMs, nowMs)
}

func (s *PasscodeStore) ListAll(ctx context.Context) ([]store.PasscodeRecord, error) {
	return s.query(ctx, `SELECT `+passcodeColumns+` FROM passcodes ORDER BY created_at_ms, id;`)
}

func (s *PasscodeStore) FindByHash(ctx context.Context, codeHash string) ([]store.PasscodeRecord, error) {
	return s.query(ctx, `
SELECT `+passcodeColumns+` FROM passcodes WHERE code_hash = ? ORDER BY created_at_ms, id;`, codeHash)
}

func (s *PasscodeStore) Get(ctx context.Context, id string) (store.PasscodeRecord, error) {
	recs, err := s.query(ctx, `SELECT `+passcodeColumns+` FROM passcodes WHERE id = ?;`, id)
	if err != nil {
		return store.PasscodeRecord{}, err
	}
	if len(recs) == 0 {
		return store.PasscodeRecord{}, store.ErrNotFound
	}
	return recs[0], nil
}

func (s *PasscodeStore) GetMain(ctx context.Context) (store.PasscodeRecord, error) {
	recs, err := s.query(ctx, `SELECT `+passcodeColumns+` FROM passcodes WHERE is_main = 1;`)
	if err != nil {
		return store.PasscodeRecord{}, err
	}
	if len(recs) == 0 {
		return store.PasscodeRecord{}, store.ErrNotFound
	}
	return recs[0], nil
}

// MarkUsed is a conditional update: only the statement that sees used = 0
// changes a row, so concurrent callers get exactly one true.
func (s *PasscodeStore) MarkUsed(ctx context.Context, id string) (bool, error) {
	var transitioned bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE passcodes SET used = 1 WHERE id = ? AND used = 0;`, id)
		if err != nil {
			return fmt.Errorf("MarkUsed %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("MarkUsed %s rows: %w", id, err)
		}
		if n == 1 {
			transitioned = true
			return nil
		}
		var one int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM passcodes WHERE id = ?;`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("MarkUsed %s lookup: %w", id, err)
		}
		return nil
	})
	return transitioned, err
}

func (s *PasscodeStore) UpdateCiphertext(ctx context.Context, id string, ciphertext []byte) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE passcodes SET code_encrypted = ? WHERE id = ?;`, ciphertext, id)
		if err != nil {
			return fmt.Errorf("UpdateCiphertext %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *PasscodeStore) DeleteGuest(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM passcodes WHERE id = ? AND is_main = 0;`, id)
		if err != nil {
			return fmt.Errorf("DeleteGuest %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("DeleteGuest %s rows: %w", id, err)
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

func (s *PasscodeStore) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM passcodes
WHERE is_main = 0 AND valid_until_ms IS NOT NULL AND valid_until_ms < ?;
`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("PruneExpired: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (s *PasscodeStore) query(ctx context.Context, q string, args ...any) ([]store.PasscodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query passcodes: %w", err)
	}
	defer rows.Close()

	var out []store.PasscodeRecord
	for rows.Next() {
		var (
			r                  store.PasscodeRecord
			isMain, oneTime    int
			used               int
			validFrom, validTo sql.NullInt64
			createdMs          int64
		)
		if err := rows.Scan(
			&r.ID, &r.CodeHash, &r.CodeEncrypted, &r.CodeMasked, &isMain, &oneTime,
			&validFrom, &validTo, &used, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("scan passcode: %w", err)
		}
		r.IsMain = isMain == 1
		r.IsOneTime = oneTime == 1
		r.Used = used == 1
		r.ValidFrom = timePtr(validFrom)
		r.ValidUntil = timePtr(validTo)
		r.CreatedAt = timeFromMs(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}
