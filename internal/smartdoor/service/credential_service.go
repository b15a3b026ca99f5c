package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

const (
	MinCodeLen = 4
	MaxCodeLen = 8

	// DefaultCodeTTL applies to guest and one-time codes created without
	// an explicit expiry.
	DefaultCodeTTL = 60 * time.Minute
)

var (
	ErrInvalidPasscode = errors.New("passcode must be 4 to 8 digits")
	ErrInvalidTTL      = errors.New("ttl must be positive")
	ErrDuplicateCode   = errors.New("passcode already in use")
	ErrNoMainCode      = errors.New("no main code set")
	ErrNoCiphertext    = errors.New("passcode is not revealable")
	ErrVaultMismatch   = errors.New("stored passcodes cannot be decrypted with the configured vault keys")
)

// VaultReport is the result of checking stored ciphertext against the
// keyring.
type VaultReport struct {
	Checked int
	// Stale lists records whose ciphertext no configured key can open.
	Stale []string
	// Rewrap lists records still sealed under a previous key.
	Rewrap []string
}

// CredentialService owns passcode lifecycle: creation, matching
// candidates, one-time consumption and display.
type CredentialService struct {
	store store.PasscodeStore
	vault *vault.Vault
	now   func() time.Time
}

func NewCredentialService(st store.PasscodeStore, v *vault.Vault) *CredentialService {
	return &CredentialService{store: st, vault: v, now: time.Now}
}

// SetClock replaces the time source used to stamp new codes.
func (s *CredentialService) SetClock(now func() time.Time) { s.now = now }

func ValidatePasscode(raw string) error {
	if len(raw) < MinCodeLen || len(raw) > MaxCodeLen {
		return ErrInvalidPasscode
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return ErrInvalidPasscode
		}
	}
	return nil
}

// CreateMainCode installs raw as the main code.  Any previous main code
// is demoted in the same transaction and can never match again.
func (s *CredentialService) CreateMainCode(ctx context.Context, raw string) (store.PasscodeRecord, error) {
	rec, err := s.newRecord(raw)
	if err != nil {
		return store.PasscodeRecord{}, err
	}
	rec.IsMain = true
	if err := s.store.InsertMain(ctx, rec); err != nil {
		return store.PasscodeRecord{}, insertError("create main code", err)
	}
	return rec, nil
}

// CreateGuestCode adds a reusable code valid from now until now+ttl.  A
// nil ttl means DefaultCodeTTL.
func (s *CredentialService) CreateGuestCode(ctx context.Context, raw string, ttl *time.Duration) (store.PasscodeRecord, error) {
	return s.createTimed(ctx, raw, ttl, false)
}

// CreateOneTimeCode adds a code that grants access once before
// validUntil.
func (s *CredentialService) CreateOneTimeCode(ctx context.Context, raw string, ttl *time.Duration) (store.PasscodeRecord, error) {
	return s.createTimed(ctx, raw, ttl, true)
}

func (s *CredentialService) createTimed(ctx context.Context, raw string, ttl *time.Duration, oneTime bool) (store.PasscodeRecord, error) {
	life := DefaultCodeTTL
	if ttl != nil {
		if *ttl <= 0 {
			return store.PasscodeRecord{}, ErrInvalidTTL
		}
		life = *ttl
	}

	rec, err := s.newRecord(raw)
	if err != nil {
		return store.PasscodeRecord{}, err
	}
	from := rec.CreatedAt
	until := rec.CreatedAt.Add(life)
	rec.ValidFrom = &from
	rec.ValidUntil = &until
	rec.IsOneTime = oneTime

	if err := s.store.Insert(ctx, rec); err != nil {
		return store.PasscodeRecord{}, insertError("create guest code", err)
	}
	return rec, nil
}

// insertError maps the store's duplicate check to ErrDuplicateCode.  Two
// live codes with the same digits would make a presentation ambiguous.
func insertError(op string, err error) error {
	if errors.Is(err, store.ErrDuplicateCode) {
		return ErrDuplicateCode
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *CredentialService) newRecord(raw string) (store.PasscodeRecord, error) {
	if err := ValidatePasscode(raw); err != nil {
		return store.PasscodeRecord{}, err
	}
	now := s.now().UTC()
	hash := vault.Hash(raw)

	ct, err := s.vault.Encrypt(raw)
	if err != nil {
		return store.PasscodeRecord{}, err
	}
	return store.PasscodeRecord{
		ID:            uuid.NewString(),
		CodeHash:      hash,
		CodeEncrypted: ct,
		CodeMasked:    vault.Mask(raw),
		CreatedAt:     now,
	}, nil
}

// FindActiveCandidates returns every record that may match at now.
func (s *CredentialService) FindActiveCandidates(ctx context.Context, now time.Time) ([]store.PasscodeRecord, error) {
	return s.store.ListActive(ctx, now)
}

// MarkUsed consumes a one-time code.  It reports true only for the call
// that performed the transition.
func (s *CredentialService) MarkUsed(ctx context.Context, id string) (bool, error) {
	return s.store.MarkUsed(ctx, id)
}

func (s *CredentialService) FindByHash(ctx context.Context, codeHash string) ([]store.PasscodeRecord, error) {
	return s.store.FindByHash(ctx, codeHash)
}

func (s *CredentialService) HasMainCode(ctx context.Context) (bool, error) {
	_, err := s.store.GetMain(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ListActiveGuestCodes returns live guest and one-time codes, soonest
// expiry first.
func (s *CredentialService) ListActiveGuestCodes(ctx context.Context, now time.Time) ([]types.GuestCodeView, error) {
	recs, err := s.store.ListActive(ctx, now)
	if err != nil {
		return nil, err
	}
	var out []types.GuestCodeView
	for _, r := range recs {
		if r.IsMain || r.ValidUntil == nil {
			continue
		}
		out = append(out, types.GuestCodeView{
			ID:        r.ID,
			Masked:    r.CodeMasked,
			OneTime:   r.IsOneTime,
			RemainSec: int64(r.ValidUntil.Sub(now) / time.Second),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RemainSec < out[j].RemainSec })
	return out, nil
}

// RevealMain decrypts the main code for display to an administrator.
func (s *CredentialService) RevealMain(ctx context.Context) (string, error) {
	rec, err := s.store.GetMain(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoMainCode
	}
	if err != nil {
		return "", err
	}
	return s.reveal(rec)
}

func (s *CredentialService) RevealGuest(ctx context.Context, id string) (string, error) {
	rec, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return "", err
	}
	if rec.IsMain {
		return "", store.ErrNotFound
	}
	return s.reveal(rec)
}

func (s *CredentialService) reveal(rec store.PasscodeRecord) (string, error) {
	if len(rec.CodeEncrypted) == 0 {
		return "", ErrNoCiphertext
	}
	raw, err := s.vault.Decrypt(rec.CodeEncrypted)
	if err != nil {
		return "", fmt.Errorf("reveal %s: %w", rec.ID, err)
	}
	return raw, nil
}

func (s *CredentialService) DeleteGuestCode(ctx context.Context, id string) error {
	ok, err := s.store.DeleteGuest(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

// PruneExpired deletes guest and one-time codes whose window closed
// before cutoff.  Main codes are never pruned.
func (s *CredentialService) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.PruneExpired(ctx, cutoff)
}

// CheckVault tries every stored ciphertext against the keyring.  Any
// record no key can open makes the returned error wrap ErrVaultMismatch.
func (s *CredentialService) CheckVault(ctx context.Context) (VaultReport, error) {
	recs, err := s.store.ListAll(ctx)
	if err != nil {
		return VaultReport{}, err
	}
	var rep VaultReport
	for _, r := range recs {
		if len(r.CodeEncrypted) == 0 {
			continue
		}
		rep.Checked++
		if _, err := s.vault.Decrypt(r.CodeEncrypted); err != nil {
			rep.Stale = append(rep.Stale, r.ID)
			continue
		}
		if s.vault.NeedsRewrap(r.CodeEncrypted) {
			rep.Rewrap = append(rep.Rewrap, r.ID)
		}
	}
	if len(rep.Stale) > 0 {
		return rep, fmt.Errorf("%w: %s", ErrVaultMismatch, strings.Join(rep.Stale, ", "))
	}
	return rep, nil
}

// Rewrap re-seals ciphertext made under a previous key with the active
// key.  Stale records are left alone and reported by CheckVault.
func (s *CredentialService) Rewrap(ctx context.Context) (int, error) {
	recs, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range recs {
		if len(r.CodeEncrypted) == 0 || !s.vault.NeedsRewrap(r.CodeEncrypted) {
			continue
		}
		raw, err := s.vault.Decrypt(r.CodeEncrypted)
		if err != nil {
			continue
		}
		ct, err := s.vault.Encrypt(raw)
		if err != nil {
			return n, err
		}
		if err := s.store.UpdateCiphertext(ctx, r.ID, ct); err != nil {
			return n, fmt.Errorf("rewrap %s: %w", r.ID, err)
		}
		n++
	}
	return n, nil
}
