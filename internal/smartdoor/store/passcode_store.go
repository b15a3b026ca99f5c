package store

import (
	"context"
	"time"
)

// PasscodeRecord is a stored passcode.  The raw code is never kept: only
// its digest, its vault ciphertext and a masked display form.
type PasscodeRecord struct {
	ID            string
	CodeHash      string
	CodeEncrypted []byte // nil when the vault was not asked to keep the code
	CodeMasked    string
	IsMain        bool
	IsOneTime     bool
	ValidFrom     *time.Time
	ValidUntil    *time.Time // nil only for main (or demoted main) codes
	Used          bool
	CreatedAt     time.Time
}

// ActiveAt reports whether the record may match a presentation at now.
// Main codes are always eligible.  Other codes need a resolved window
// containing now, and one-time codes must still be unused.
func (r PasscodeRecord) ActiveAt(now time.Time) bool {
	if r.IsMain {
		return true
	}
	if r.ValidUntil == nil || now.After(*r.ValidUntil) {
		return false
	}
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.IsOneTime && r.Used {
		return false
	}
	return true
}

// PasscodeStore persists passcode records.
type PasscodeStore interface {
	// InsertMain stores rec as the only main code, demoting any existing
	// main code in the same atomic step.  A live guest code with the same
	// digest fails with ErrDuplicateCode; the current main code may share
	// it.
	InsertMain(ctx context.Context, rec PasscodeRecord) error
	// Insert stores a guest or one-time code.  Any live code with the same
	// digest fails with ErrDuplicateCode.
	Insert(ctx context.Context, rec PasscodeRecord) error

	ListActive(ctx context.Context, now time.Time) ([]PasscodeRecord, error)
	ListAll(ctx context.Context) ([]PasscodeRecord, error)
	FindByHash(ctx context.Context, codeHash string) ([]PasscodeRecord, error)
	Get(ctx context.Context, id string) (PasscodeRecord, error)
	GetMain(ctx context.Context) (PasscodeRecord, error)

	// MarkUsed flips used from false to true.  It returns true only for
	// the call that performed the transition.
	MarkUsed(ctx context.Context, id string) (bool, error)

	UpdateCiphertext(ctx context.Context, id string, ciphertext []byte) error
	// DeleteGuest removes a non-main code.  Main codes are never deleted.
	DeleteGuest(ctx context.Context, id string) (bool, error)
	// PruneExpired deletes non-main codes whose window closed before cutoff.
	PruneExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
