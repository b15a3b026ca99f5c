package doorlink

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// Frames on the wire are ASCII lines:
//
//	PAYLOAD*HH\n
//
// HH is the XOR of every payload byte in two uppercase hex digits.  Host
// commands are OPEN <seq> <hold>, CLOSE <seq> and STATE <seq>; the
// controller answers ACK <seq> or STATE <seq> OPEN|CLOSE.

var (
	ErrNoAck             = errors.New("doorlink: no acknowledgement")
	ErrMalformedResponse = errors.New("doorlink: malformed response")
	ErrPortUnavailable   = errors.New("doorlink: port unavailable")
)

type Verb string

const (
	VerbOpen  Verb = "OPEN"
	VerbClose Verb = "CLOSE"
	VerbState Verb = "STATE"
	VerbAck   Verb = "ACK"
)

// Command is a host-to-controller request.
type Command struct {
	Verb Verb
	Seq  uint16
	Hold int // seconds; OPEN only
}

func (c Command) payload() string {
	switch c.Verb {
	case VerbOpen:
		return fmt.Sprintf("%s %d %d", c.Verb, c.Seq, c.Hold)
	default:
		return fmt.Sprintf("%s %d", c.Verb, c.Seq)
	}
}

// Frame returns the encoded line including the trailing newline.
func (c Command) Frame() []byte {
	return []byte(EncodeFrame(c.payload()))
}

// accepts reports whether resp completes the exchange started by c.
func (c Command) accepts(resp Response) bool {
	if resp.Seq != c.Seq {
		return false
	}
	switch c.Verb {
	case VerbState:
		return resp.Verb == VerbState && resp.State != types.DoorUnknown
	default:
		return resp.Verb == VerbAck
	}
}

// Response is a parsed controller reply.
type Response struct {
	Verb  Verb
	Seq   uint16
	State types.DoorState // STATE replies only
}

func Checksum(payload string) byte {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum ^= payload[i]
	}
	return sum
}

func EncodeFrame(payload string) string {
	return fmt.Sprintf("%s*%02X\n", payload, Checksum(payload))
}

// ParseFrame decodes one line (without its newline) into a Response.  Any
// line that does not match the reply grammar exactly yields
// ErrMalformedResponse.
func ParseFrame(line string) (Response, error) {
	line = strings.TrimRight(line, "\r\n")
	star := strings.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return Response{}, fmt.Errorf("%w: missing checksum", ErrMalformedResponse)
	}
	payload, hex := line[:star], line[star+1:]
	want, err := strconv.ParseUint(hex, 16, 8)
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad checksum digits", ErrMalformedResponse)
	}
	if Checksum(payload) != byte(want) {
		return Response{}, fmt.Errorf("%w: checksum mismatch", ErrMalformedResponse)
	}

	fields := strings.Fields(payload)
	if len(fields) < 2 {
		return Response{}, fmt.Errorf("%w: short payload", ErrMalformedResponse)
	}
	seq, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return Response{}, fmt.Errorf("%w: bad sequence", ErrMalformedResponse)
	}

	switch Verb(fields[0]) {
	case VerbAck:
		if len(fields) != 2 {
			break
		}
		return Response{Verb: VerbAck, Seq: uint16(seq)}, nil
	case VerbState:
		if len(fields) != 3 {
			break
		}
		var st types.DoorState
		switch fields[2] {
		case "OPEN":
			st = types.DoorOpen
		case "CLOSE":
			st = types.DoorClosed
		default:
			return Response{}, fmt.Errorf("%w: bad state %q", ErrMalformedResponse, fields[2])
		}
		return Response{Verb: VerbState, Seq: uint16(seq), State: st}, nil
	}
	return Response{}, fmt.Errorf("%w: unexpected payload", ErrMalformedResponse)
}
