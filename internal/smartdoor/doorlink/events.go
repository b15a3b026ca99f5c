package doorlink

import (
	"strconv"
	"strings"
	"time"
)

// EventKind classifies an unsolicited controller report.
type EventKind string

const (
	EventPasscode       EventKind = "passcode"
	EventFingerFound    EventKind = "finger_found"
	EventFingerNotFound EventKind = "finger_not_found"
	EventDoorOpened     EventKind = "door_opened"
	EventDoorClosed     EventKind = "door_closed"
	EventDoorClosing    EventKind = "door_closing"
)

// Event is a report the controller sends on its own, outside any exchange.
// Code carries keypad digits and must never be logged.
type Event struct {
	Kind EventKind
	Code string
	Slot int
	At   time.Time
}

const informPrefix = "Inform "

// ParseEvent recognises the controller's unsolicited lines:
//
//	Inform passcode <digits>
//	Inform finger found, ID:<n>
//	Inform finger not found
//	Inform door opened|closed|closing
func ParseEvent(line string, at time.Time) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, informPrefix)
	if !ok {
		return Event{}, false
	}

	switch {
	case strings.HasPrefix(rest, "passcode "):
		code := strings.TrimSpace(strings.TrimPrefix(rest, "passcode "))
		if code == "" || !allDigits(code) {
			return Event{}, false
		}
		return Event{Kind: EventPasscode, Code: code, At: at}, true

	case strings.HasPrefix(rest, "finger found"):
		_, id, ok := strings.Cut(rest, "ID:")
		if !ok {
			return Event{}, false
		}
		slot, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil || slot < 0 {
			return Event{}, false
		}
		return Event{Kind: EventFingerFound, Slot: slot, At: at}, true

	case rest == "finger not found":
		return Event{Kind: EventFingerNotFound, At: at}, true
	case rest == "door opened":
		return Event{Kind: EventDoorOpened, At: at}, true
	case rest == "door closed":
		return Event{Kind: EventDoorClosed, At: at}, true
	case rest == "door closing":
		return Event{Kind: EventDoorClosing, At: at}, true
	}
	return Event{}, false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
