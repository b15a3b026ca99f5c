package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/smartdoor/internal/db"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

type SettingsStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSettingsStore(db *sql.DB, writer *dbpkg.Worker) *SettingsStore {
	return &SettingsStore{db: db, writer: writer}
}

func (s *SettingsStore) GetSettings(ctx context.Context) (types.Settings, error) {
	var (
		st                     types.Settings
		state                  string
		face, finger, passcode int
		updatedMs              int64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT door_state, hold_time_seconds, face_enabled, fingerprint_enabled, passcode_enabled, updated_at_ms
FROM settings WHERE id = 1;
`).Scan(&state, &st.HoldTimeSeconds, &face, &finger, &passcode, &updatedMs)
	if err == sql.ErrNoRows {
		return types.DefaultSettings(), nil
	}
	if err != nil {
		return types.Settings{}, fmt.Errorf("GetSettings: %w", err)
	}
	st.DoorState = types.DoorState(state)
	st.FaceEnabled = face == 1
	st.FingerprintEnabled = finger == 1
	st.PasscodeEnabled = passcode == 1
	st.UpdatedAt = timeFromMs(updatedMs)
	return st, nil
}

func (s *SettingsStore) UpdateSettings(ctx context.Context, upd types.SettingsUpdate, at time.Time) (types.Settings, error) {
	atMs := at.UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureSettings(ctx, tx, atMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE settings SET
  hold_time_seconds   = COALESCE(?, hold_time_seconds),
  face_enabled        = COALESCE(?, face_enabled),
  fingerprint_enabled = COALESCE(?, fingerprint_enabled),
  passcode_enabled    = COALESCE(?, passcode_enabled),
  updated_at_ms       = ?
WHERE id = 1;
`,
			intOrNil(upd.HoldTimeSeconds),
			boolOrNil(upd.FaceEnabled),
			boolOrNil(upd.FingerprintEnabled),
			boolOrNil(upd.PasscodeEnabled),
			atMs,
		); err != nil {
			return fmt.Errorf("UpdateSettings: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Settings{}, err
	}
	return s.GetSettings(ctx)
}

func (s *SettingsStore) SetDoorState(ctx context.Context, state types.DoorState, at time.Time) error {
	if state != types.DoorOpen && state != types.DoorClosed {
		return fmt.Errorf("SetDoorState: invalid state %q", state)
	}
	atMs := at.UTC().UnixMilli()
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureSettings(ctx, tx, atMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE settings SET door_state = ?, updated_at_ms = ? WHERE id = 1;`,
			string(state), atMs,
		); err != nil {
			return fmt.Errorf("SetDoorState: %w", err)
		}
		return nil
	})
}

// ensureSettings guarantees the singleton row exists.  The migration
// inserts it, but a hand-edited database may not have it.
//
// Must be called inside an existing transaction.
func ensureSettings(ctx context.Context, tx *sql.Tx, nowMs int64) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(id, updated_at_ms) VALUES (1, ?);`, nowMs,
	); err != nil {
		return fmt.Errorf("ensureSettings: %w", err)
	}
	return nil
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolOrNil(v *bool) any {
	if v == nil {
		return nil
	}
	return boolInt(*v)
}
