package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// SettingsStore holds the singleton settings row.
type SettingsStore interface {
	GetSettings(ctx context.Context) (types.Settings, error)
	UpdateSettings(ctx context.Context, upd types.SettingsUpdate, at time.Time) (types.Settings, error)
	SetDoorState(ctx context.Context, state types.DoorState, at time.Time) error
}
