package service

import (
	"context"
	"log"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/doorlink"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// ControllerListener turns keypad and fingerprint reports from the door
// controller into arbiter decisions, and door reports into settings.
type ControllerListener struct {
	events   <-chan doorlink.Event
	auth     *Authenticator
	arbiter  *Arbiter
	settings *SettingsService
	logger   *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewControllerListener(events <-chan doorlink.Event, auth *Authenticator, arb *Arbiter, settings *SettingsService, logger *log.Logger) *ControllerListener {
	return &ControllerListener{
		events:   events,
		auth:     auth,
		arbiter:  arb,
		settings: settings,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

func (l *ControllerListener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.loop(ctx)
}

func (l *ControllerListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *ControllerListener) loop(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.events:
			if !ok {
				l.logger.Printf("controller event stream closed")
				return
			}
			l.Handle(ctx, ev)
		}
	}
}

// Handle processes one controller event.  Access events return the
// arbiter's decision; door events return nil.
func (l *ControllerListener) Handle(ctx context.Context, ev doorlink.Event) *Decision {
	var d Decision
	switch ev.Kind {
	case doorlink.EventPasscode:
		code := ev.Code
		d = l.arbiter.Evaluate(ctx, types.MethodPasscode, func(ctx context.Context, now time.Time) (types.Verdict, error) {
			return l.auth.VerifyPasscode(ctx, SourceKeypad, code, now)
		})

	case doorlink.EventFingerFound:
		slot := ev.Slot
		d = l.arbiter.Evaluate(ctx, types.MethodFingerprint, func(ctx context.Context, _ time.Time) (types.Verdict, error) {
			return l.auth.VerifyBiometric(ctx, types.MethodFingerprint, recognition.Features{Slot: &slot}, 0)
		})

	case doorlink.EventFingerNotFound:
		d = l.arbiter.Decide(ctx, types.Denied(types.MethodFingerprint, types.ReasonNoMatch))

	case doorlink.EventDoorOpened, doorlink.EventDoorClosed:
		state := types.DoorOpen
		if ev.Kind == doorlink.EventDoorClosed {
			state = types.DoorClosed
		}
		if err := l.settings.SetDoorState(ctx, state); err != nil {
			l.logger.Printf("controller door event: settings write error: %v", err)
		}
		return nil

	default:
		l.logger.Printf("controller event kind=%s", ev.Kind)
		return nil
	}

	if d.ActuationErr != nil {
		l.logger.Printf("controller %s granted but door did not respond: %v", d.Verdict.Method, d.ActuationErr)
	}
	return &d
}
