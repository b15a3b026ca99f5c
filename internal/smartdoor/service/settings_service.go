package service

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

const MaxHoldTimeSeconds = 300

var (
	ErrInvalidHoldTime  = errors.New("hold time must be between 0 and 300 seconds")
	ErrInvalidMethod    = errors.New("method has no enable flag")
	ErrInvalidDoorState = errors.New("door state must be open or close")
)

type SettingsService struct {
	store store.SettingsStore
}

func NewSettingsService(st store.SettingsStore) *SettingsService {
	return &SettingsService{store: st}
}

// Snapshot reads the settings row once.  Callers must not cache it
// across decisions.
func (s *SettingsService) Snapshot(ctx context.Context) (types.Settings, error) {
	return s.store.GetSettings(ctx)
}

func (s *SettingsService) SetHoldTime(ctx context.Context, seconds int) (types.Settings, error) {
	return s.Update(ctx, types.SettingsUpdate{HoldTimeSeconds: &seconds})
}

func (s *SettingsService) SetMethodEnabled(ctx context.Context, m types.Method, enabled bool) (types.Settings, error) {
	var upd types.SettingsUpdate
	switch m {
	case types.MethodFace:
		upd.FaceEnabled = &enabled
	case types.MethodFingerprint:
		upd.FingerprintEnabled = &enabled
	case types.MethodPasscode:
		upd.PasscodeEnabled = &enabled
	default:
		return types.Settings{}, ErrInvalidMethod
	}
	return s.store.UpdateSettings(ctx, upd, time.Now().UTC())
}

// Update applies a partial update after validating it.
func (s *SettingsService) Update(ctx context.Context, upd types.SettingsUpdate) (types.Settings, error) {
	if h := upd.HoldTimeSeconds; h != nil && (*h < 0 || *h > MaxHoldTimeSeconds) {
		return types.Settings{}, ErrInvalidHoldTime
	}
	return s.store.UpdateSettings(ctx, upd, time.Now().UTC())
}

func (s *SettingsService) SetDoorState(ctx context.Context, state types.DoorState) error {
	if state != types.DoorOpen && state != types.DoorClosed {
		return ErrInvalidDoorState
	}
	return s.store.SetDoorState(ctx, state, time.Now().UTC())
}
