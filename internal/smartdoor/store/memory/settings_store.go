package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

type SettingsStore struct {
	mu       sync.RWMutex
	settings types.Settings
}

func NewSettingsStore() *SettingsStore {
	s := types.DefaultSettings()
	s.UpdatedAt = time.Now().UTC()
	return &SettingsStore{settings: s}
}

func (s *SettingsStore) GetSettings(_ context.Context) (types.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *SettingsStore) UpdateSettings(_ context.Context, upd types.SettingsUpdate, at time.Time) (types.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upd.HoldTimeSeconds != nil {
		s.settings.HoldTimeSeconds = *upd.HoldTimeSeconds
	}
	if upd.FaceEnabled != nil {
		s.settings.FaceEnabled = *upd.FaceEnabled
	}
	if upd.FingerprintEnabled != nil {
		s.settings.FingerprintEnabled = *upd.FingerprintEnabled
	}
	if upd.PasscodeEnabled != nil {
		s.settings.PasscodeEnabled = *upd.PasscodeEnabled
	}
	s.settings.UpdatedAt = at.UTC()
	return s.settings, nil
}

func (s *SettingsStore) SetDoorState(_ context.Context, state types.DoorState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DoorState = state
	s.settings.UpdatedAt = at.UTC()
	return nil
}
