package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// AccessAttemptRecord captures a single access decision for the audit log.
// Passcode fields hold the masked form and digest, never the raw code.
type AccessAttemptRecord struct {
	ID             string
	Method         types.Method
	Result         types.Result
	Reason         string
	PasscodeMasked *string
	PasscodeHash   *string
	Confidence     *float64
	Timestamp      time.Time
}

// AccessAttemptStore persists access decisions as an append-only audit log.
// RecordAttempt is idempotent on ID so a spooled record can be replayed.
type AccessAttemptStore interface {
	RecordAttempt(ctx context.Context, rec AccessAttemptRecord) error
	// ListAttempts returns attempts with from <= timestamp < to, newest first.
	ListAttempts(ctx context.Context, from, to time.Time) ([]AccessAttemptRecord, error)
	RecentGranted(ctx context.Context, limit int) ([]AccessAttemptRecord, error)
}
