package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DevMainCode is the well-known main code seeded into dev databases.
const DevMainCode = "0000"

type SeedDevOptions struct {
	// MainCodeID, CodeHash, CodeMasked and CodeEncrypted describe the dev
	// main code.  The caller computes them with the process vault so this
	// package never needs key material.
	MainCodeID    string
	CodeHash      string
	CodeMasked    string
	CodeEncrypted []byte
}

// SeedDev installs a main code when none exists.  An existing main code
// is left untouched.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) (bool, error) {
	now := time.Now().UTC().UnixMilli()

	res, err := db.ExecContext(ctx, `
INSERT INTO passcodes(
  id, code_hash, code_encrypted, code_masked,
  is_main, is_one_time, used, created_at_ms
)
SELECT ?, ?, ?, ?, 1, 0, 0, ?
WHERE NOT EXISTS (SELECT 1 FROM passcodes WHERE is_main = 1);
`, opt.MainCodeID, opt.CodeHash, opt.CodeEncrypted, opt.CodeMasked, now)
	if err != nil {
		return false, fmt.Errorf("seed main code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seed main code rows: %w", err)
	}
	return n == 1, nil
}
