package types

import "time"

type DoorState string

const (
	DoorOpen    DoorState = "open"
	DoorClosed  DoorState = "close"
	DoorUnknown DoorState = "unknown"
)

// Settings is a point-in-time snapshot of the live configuration row.
// The Arbiter reads one snapshot per decision and never caches it.
type Settings struct {
	DoorState          DoorState `json:"door_state" yaml:"door_state"`
	HoldTimeSeconds    int       `json:"hold_time_s" yaml:"hold_time_s"`
	FaceEnabled        bool      `json:"face_enabled" yaml:"face_enabled"`
	FingerprintEnabled bool      `json:"fingerprint_enabled" yaml:"fingerprint_enabled"`
	PasscodeEnabled    bool      `json:"passcode_enabled" yaml:"passcode_enabled"`
	UpdatedAt          time.Time `json:"updated_at" yaml:"updated_at"`
}

// DefaultSettings mirrors the defaults of the settings row migration.
func DefaultSettings() Settings {
	return Settings{
		DoorState:          DoorClosed,
		HoldTimeSeconds:    5,
		FaceEnabled:        true,
		FingerprintEnabled: true,
		PasscodeEnabled:    true,
	}
}

// MethodEnabled reports whether m may grant access under s.  Manual opens
// come from an operator and have no toggle.
func (s Settings) MethodEnabled(m Method) bool {
	switch m {
	case MethodFace:
		return s.FaceEnabled
	case MethodFingerprint:
		return s.FingerprintEnabled
	case MethodPasscode:
		return s.PasscodeEnabled
	case MethodManual:
		return true
	}
	return false
}

// SettingsUpdate is a partial update; nil fields are left untouched.
type SettingsUpdate struct {
	HoldTimeSeconds    *int  `json:"hold_time_s,omitempty"`
	FaceEnabled        *bool `json:"face_enabled,omitempty"`
	FingerprintEnabled *bool `json:"fingerprint_enabled,omitempty"`
	PasscodeEnabled    *bool `json:"passcode_enabled,omitempty"`
}
