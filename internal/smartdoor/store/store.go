package store

import "errors"

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicateCode is returned when a new passcode has the same digest
	// as a code that is live at the new record's CreatedAt.
	ErrDuplicateCode = errors.New("store: passcode digest already live")
)
