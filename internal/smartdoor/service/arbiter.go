package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// ArbiterState is a step of a single decision.
type ArbiterState int

const (
	StateIdle ArbiterState = iota
	StateEvaluating
	StateGranting
	StateDenying
)

func (s ArbiterState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEvaluating:
		return "evaluating"
	case StateGranting:
		return "granting"
	case StateDenying:
		return "denying"
	}
	return fmt.Sprintf("ArbiterState(%d)", int(s))
}

var (
	ErrIllegalTransition = errors.New("illegal arbiter transition")
	ErrUnknownMethod     = errors.New("unknown access method")
)

var arbiterTransitions = map[ArbiterState][]ArbiterState{
	StateIdle:       {StateEvaluating},
	StateEvaluating: {StateGranting, StateDenying},
	StateGranting:   {StateIdle},
	StateDenying:    {StateIdle},
}

// decisionFSM tracks one decision through the arbiter states.
type decisionFSM struct {
	state ArbiterState
	trail []ArbiterState
}

func newDecisionFSM() *decisionFSM {
	return &decisionFSM{state: StateIdle, trail: []ArbiterState{StateIdle}}
}

func (d *decisionFSM) advance(to ArbiterState) error {
	for _, next := range arbiterTransitions[d.state] {
		if next == to {
			d.state = to
			d.trail = append(d.trail, to)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, d.state, to)
}

// Observer receives decision outcomes, e.g. for metrics.
type Observer interface {
	ObserveDecision(method types.Method, result types.Result, reason types.DenyReason)
	ObserveActuation(op string, err error)
	ObserveLogWrite(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(types.Method, types.Result, types.DenyReason) {}
func (nopObserver) ObserveActuation(string, error)                               {}
func (nopObserver) ObserveLogWrite(error)                                        {}

// Decision is what the Arbiter did with one verdict.  ActuationErr is set
// when access was granted but the door did not acknowledge; the attempt
// is still logged as granted.
type Decision struct {
	Verdict      types.Verdict
	AttemptID    string
	ActuationErr error
	LogErr       error
	// Err is a settings or credential store fault that forced a deny.
	Err error
}

// VerifyFunc produces a verdict at now.  It runs only when the method is
// enabled in the decision's settings snapshot.
type VerifyFunc func(ctx context.Context, now time.Time) (types.Verdict, error)

type ArbiterConfig struct {
	Logger   *log.Logger
	Observer Observer
	Now      func() time.Time
	// ActuationTimeout bounds unlock/lock including queueing.  Zero
	// leaves the bound to the door link.
	ActuationTimeout time.Duration
}

// Arbiter is the only component that may request door actuation.  Every
// call with a known method records exactly one access attempt.
type Arbiter struct {
	settings *SettingsService
	actuator *Actuator
	accessLg *AccessLogger
	logger   *log.Logger
	observer Observer
	now      func() time.Time
	actTO    time.Duration
}

func NewArbiter(settings *SettingsService, actuator *Actuator, accessLog *AccessLogger, cfg ArbiterConfig) *Arbiter {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Arbiter{
		settings: settings,
		actuator: actuator,
		accessLg: accessLog,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		now:      cfg.Now,
		actTO:    cfg.ActuationTimeout,
	}
}

// Decide applies the current settings to a verdict produced elsewhere.
func (a *Arbiter) Decide(ctx context.Context, v types.Verdict) Decision {
	return a.Evaluate(ctx, v.Method, func(context.Context, time.Time) (types.Verdict, error) {
		return v, nil
	})
}

// Evaluate reads one settings snapshot, runs verify only if the method is
// enabled, actuates on a grant and records the attempt.  A disabled method
// is denied without running verify, so a one-time code is not consumed.
func (a *Arbiter) Evaluate(ctx context.Context, method types.Method, verify VerifyFunc) Decision {
	// Not an access attempt: nothing was presented through a real channel.
	if !method.Valid() {
		a.logger.Printf("access rejected: unknown method %q", method)
		return Decision{
			Verdict: types.Denied(method, types.ReasonInvalidCredential),
			Err:     fmt.Errorf("%w: %q", ErrUnknownMethod, method),
		}
	}

	fsm := newDecisionFSM()
	now := a.now().UTC()
	var d Decision

	// A caller that goes away mid-decision must not leave a grant without
	// its log entry.
	ctx = context.WithoutCancel(ctx)

	a.step(fsm, StateEvaluating)
	var hold int
	d.Verdict, hold, d.Err = a.evaluate(ctx, method, verify, now)

	if d.Verdict.Granted {
		// The door is only driven from the granting state.
		if err := fsm.advance(StateGranting); err != nil {
			a.logger.Printf("arbiter: %v", err)
			d.Verdict = types.Denied(method, types.ReasonInternalError)
			d.Err = err
		} else {
			d.ActuationErr = a.unlock(ctx, hold)
		}
	}
	if !d.Verdict.Granted {
		a.step(fsm, StateDenying)
	}

	d.AttemptID, d.LogErr = a.record(ctx, d.Verdict, now)
	a.step(fsm, StateIdle)

	a.observer.ObserveDecision(d.Verdict.Method, d.Verdict.Result(), d.Verdict.Reason)
	a.logger.Printf("access decision method=%s result=%s reason=%s attempt=%s trail=%v",
		d.Verdict.Method, d.Verdict.Result(), d.Verdict.Reason, d.AttemptID, fsm.trail)
	return d
}

// step advances fsm and logs a transition the table does not allow.
func (a *Arbiter) step(fsm *decisionFSM, to ArbiterState) {
	if err := fsm.advance(to); err != nil {
		a.logger.Printf("arbiter: %v", err)
	}
}

// evaluate returns the final verdict and the hold time from the same
// settings snapshot.
func (a *Arbiter) evaluate(ctx context.Context, method types.Method, verify VerifyFunc, now time.Time) (types.Verdict, int, error) {
	settings, err := a.settings.Snapshot(ctx)
	if err != nil {
		return types.Denied(method, types.ReasonInternalError), 0, fmt.Errorf("settings snapshot: %w", err)
	}
	if !settings.MethodEnabled(method) {
		return types.Denied(method, types.ReasonMethodDisabled), 0, nil
	}

	v, err := verify(ctx, now)
	if err != nil {
		a.logger.Printf("access verify error method=%s: %v", method, err)
		denied := types.Denied(method, types.ReasonInternalError)
		denied.PasscodeMasked, denied.PasscodeHash = v.PasscodeMasked, v.PasscodeHash
		return denied, 0, err
	}
	// A verdict for another method than the one evaluated is not trusted.
	if v.Method != method {
		return types.Denied(method, types.ReasonInvalidCredential), 0, nil
	}
	if v.Granted {
		v.Reason = ""
	}
	return v, settings.HoldTimeSeconds, nil
}

func (a *Arbiter) unlock(ctx context.Context, hold int) error {
	if a.actTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.actTO)
		defer cancel()
	}
	err := a.actuator.Unlock(ctx, hold)
	a.observer.ObserveActuation("unlock", err)
	if err != nil {
		a.logger.Printf("DOOR FAULT: unlock failed after grant: %v", err)
		return err
	}
	if err := a.settings.SetDoorState(ctx, types.DoorOpen); err != nil {
		a.logger.Printf("door state update failed: %v", err)
	}
	return nil
}

func (a *Arbiter) record(ctx context.Context, v types.Verdict, now time.Time) (string, error) {
	rec := store.AccessAttemptRecord{
		ID:         uuid.NewString(),
		Method:     v.Method,
		Result:     v.Result(),
		Reason:     string(v.Reason),
		Confidence: v.Confidence,
		Timestamp:  now,
	}
	if v.PasscodeMasked != "" {
		m := v.PasscodeMasked
		rec.PasscodeMasked = &m
	}
	if v.PasscodeHash != "" {
		h := v.PasscodeHash
		rec.PasscodeHash = &h
	}

	err := a.accessLg.Record(ctx, rec)
	a.observer.ObserveLogWrite(err)
	switch {
	case err == nil:
	case errors.Is(err, ErrLogSpooled):
		a.logger.Printf("access attempt %s spooled: %v", rec.ID, err)
	default:
		a.logger.Printf("ACCESS LOG LOST attempt=%s method=%s result=%s: %v", rec.ID, rec.Method, rec.Result, err)
	}
	return rec.ID, err
}

// Open is a manual unlock by an operator.  It is logged like any other
// attempt.
func (a *Arbiter) Open(ctx context.Context) Decision {
	return a.Decide(ctx, types.Granted(types.MethodManual))
}

// Close re-locks the door immediately.  It is not an access attempt and
// is not logged.
func (a *Arbiter) Close(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	if a.actTO > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.actTO)
		defer cancel()
	}
	err := a.actuator.Lock(ctx)
	a.observer.ObserveActuation("lock", err)
	if err != nil {
		return err
	}
	return a.settings.SetDoorState(ctx, types.DoorClosed)
}
