package doorlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

const (
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 2

	maxLineLen = 256
)

// LinkError reports a failed exchange.  Err is one of ErrNoAck,
// ErrPortUnavailable or the caller's context error.
type LinkError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("doorlink %s: %v after %d attempt(s)", e.Op, e.Err, e.Attempts)
}

func (e *LinkError) Unwrap() error { return e.Err }

type Config struct {
	Timeout time.Duration // per attempt; DefaultTimeout when zero
	Retries int           // resends after the first attempt; negative means DefaultRetries
	Logger  *log.Logger

	// OnRetry, when set, is called before every resend.
	OnRetry func(op string)
}

// Link drives the request/acknowledge exchange with the door controller.
// Only one exchange is in flight at a time.
type Link struct {
	rw      io.ReadWriteCloser
	timeout time.Duration
	retries int
	logger  *log.Logger
	onRetry func(op string)

	mu  sync.Mutex // held for a whole exchange
	seq uint16

	responses  chan Response
	events     chan Event
	readerDone chan struct{}
	closeOnce  sync.Once
}

type exchangeState int

const (
	stateSending exchangeState = iota
	stateAwaitingAck
	stateAcked
	stateTimedOut
)

// New starts reading from rw.  A nil rw yields a Link whose operations
// all fail with ErrPortUnavailable, so the daemon can run without a
// controller attached.
func New(rw io.ReadWriteCloser, cfg Config) *Link {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	l := &Link{
		rw:         rw,
		timeout:    cfg.Timeout,
		retries:    cfg.Retries,
		logger:     cfg.Logger,
		onRetry:    cfg.OnRetry,
		responses:  make(chan Response, 16),
		events:     make(chan Event, 32),
		readerDone: make(chan struct{}),
	}
	if rw == nil {
		close(l.readerDone)
		close(l.events)
		return l
	}
	go l.readLoop()
	return l
}

// Events delivers unsolicited controller reports.  The channel is closed
// when the underlying transport stops.
func (l *Link) Events() <-chan Event { return l.events }

// MaxLatency is the longest a single operation can block on a silent
// controller.
func (l *Link) MaxLatency() time.Duration {
	return l.timeout * time.Duration(1+l.retries)
}

// Unlock asks the controller to open for hold seconds.  The controller
// re-locks on its own once hold has elapsed.
func (l *Link) Unlock(ctx context.Context, hold int) error {
	if hold < 0 {
		hold = 0
	}
	_, err := l.exchange(ctx, "unlock", Command{Verb: VerbOpen, Hold: hold})
	return err
}

func (l *Link) Lock(ctx context.Context) error {
	_, err := l.exchange(ctx, "lock", Command{Verb: VerbClose})
	return err
}

// GetState queries the controller.  A silent or missing controller
// yields DoorUnknown, never an error.
func (l *Link) GetState(ctx context.Context) types.DoorState {
	resp, err := l.exchange(ctx, "state", Command{Verb: VerbState})
	if err != nil {
		return types.DoorUnknown
	}
	return resp.State
}

func (l *Link) Close() error {
	if l.rw == nil {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		err = l.rw.Close()
		<-l.readerDone
	})
	return err
}

func (l *Link) exchange(ctx context.Context, op string, cmd Command) (Response, error) {
	if l.rw == nil {
		return Response{}, &LinkError{Op: op, Err: ErrPortUnavailable}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	cmd.Seq = l.seq
	frame := cmd.Frame()
	l.drainResponses()

	var (
		state    = stateSending
		attempts int
		timer    *time.Timer
		got      Response
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	for {
		switch state {
		case stateSending:
			if attempts > 0 && l.onRetry != nil {
				l.onRetry(op)
			}
			attempts++
			if err := l.write(frame); err != nil {
				return Response{}, &LinkError{Op: op, Attempts: attempts, Err: fmt.Errorf("%w: %v", ErrPortUnavailable, err)}
			}
			timer = time.NewTimer(l.timeout)
			state = stateAwaitingAck

		case stateAwaitingAck:
			select {
			case <-ctx.Done():
				stop()
				return Response{}, &LinkError{Op: op, Attempts: attempts, Err: ctx.Err()}
			case <-l.readerDone:
				stop()
				return Response{}, &LinkError{Op: op, Attempts: attempts, Err: ErrPortUnavailable}
			case resp := <-l.responses:
				// Replies to other sequence numbers or verbs are not ours.
				if cmd.accepts(resp) {
					stop()
					got = resp
					state = stateAcked
				}
			case <-timer.C:
				state = stateTimedOut
			}

		case stateTimedOut:
			if attempts >= 1+l.retries {
				l.logger.Printf("doorlink: no ack op=%s seq=%d attempts=%d", op, cmd.Seq, attempts)
				return Response{}, &LinkError{Op: op, Attempts: attempts, Err: ErrNoAck}
			}
			l.logger.Printf("doorlink: timeout op=%s seq=%d attempt=%d, resending", op, cmd.Seq, attempts)
			state = stateSending

		case stateAcked:
			return got, nil
		}
	}
}

type deadliner interface {
	SetWriteDeadline(t time.Time) error
}

func (l *Link) write(frame []byte) error {
	if d, ok := l.rw.(deadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(l.timeout))
	}
	_, err := l.rw.Write(frame)
	return err
}

func (l *Link) drainResponses() {
	for {
		select {
		case <-l.responses:
		default:
			return
		}
	}
}

// readLoop splits the byte stream into lines.  Serial ports with a read
// timeout return (0, nil), so bufio.Reader is not used here.
func (l *Link) readLoop() {
	defer close(l.readerDone)
	defer close(l.events)

	buf := make([]byte, 128)
	var (
		line       []byte
		discarding bool
	)
	for {
		n, err := l.rw.Read(buf)
		for _, b := range buf[:n] {
			switch {
			case b == '\n':
				if !discarding {
					l.dispatch(string(line))
				}
				line = line[:0]
				discarding = false
			case discarding:
			case len(line) >= maxLineLen:
				l.logger.Printf("doorlink: discarding oversized line")
				line = line[:0]
				discarding = true
			default:
				line = append(line, b)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosed(err) {
				l.logger.Printf("doorlink: read error: %v", err)
			}
			return
		}
	}
}

func (l *Link) dispatch(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}

	if ev, ok := ParseEvent(line, time.Now().UTC()); ok {
		select {
		case l.events <- ev:
		default:
			l.logger.Printf("doorlink: event queue full, dropped kind=%s", ev.Kind)
		}
		return
	}

	resp, err := ParseFrame(line)
	if err != nil {
		// Raw line content stays out of the log: keypad lines carry codes.
		l.logger.Printf("doorlink: ignored line: %v", err)
		return
	}
	select {
	case l.responses <- resp:
	default:
	}
}

func isClosed(err error) bool {
	return strings.Contains(err.Error(), "closed")
}
