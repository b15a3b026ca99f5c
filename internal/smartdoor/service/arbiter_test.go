package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store/memory"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// brokenSettings fails every read.
type brokenSettings struct{ store.SettingsStore }

func (brokenSettings) GetSettings(context.Context) (types.Settings, error) {
	return types.Settings{}, errStoreDown
}

// ═══════════════════════════════════════════════════════════════════════════════
// Passcode decisions
// ═══════════════════════════════════════════════════════════════════════════════

func TestArbiter_MainCodeGrantsAndLogs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")

	d := h.presentPasscode(ctx, "1234")
	if !d.Verdict.Granted {
		t.Fatalf("expected grant, got %s", d.Verdict.Reason)
	}
	if d.ActuationErr != nil || d.LogErr != nil || d.Err != nil {
		t.Fatalf("unexpected errors: %+v", d)
	}

	if got := h.link.unlockCount(); got != 1 {
		t.Fatalf("expected 1 unlock, got %d", got)
	}

	attempts := h.attempts.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.ID != d.AttemptID {
		t.Errorf("attempt id %s does not match decision %s", a.ID, d.AttemptID)
	}
	if a.Method != types.MethodPasscode || a.Result != types.ResultGranted {
		t.Errorf("unexpected attempt %+v", a)
	}
	if a.PasscodeMasked == nil || *a.PasscodeMasked != "****1234" {
		t.Errorf("expected masked ****1234, got %v", a.PasscodeMasked)
	}
	if a.Confidence != nil {
		t.Errorf("passcode attempt must not carry confidence, got %v", *a.Confidence)
	}
	if !a.Timestamp.Equal(t0) {
		t.Errorf("expected timestamp %v, got %v", t0, a.Timestamp)
	}
}

func TestArbiter_ExpiredGuestDoesNotActuate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateGuestCode(ctx, "2345", durationPtr(time.Minute))

	h.clock.Advance(2 * time.Minute)
	d := h.presentPasscode(ctx, "2345")

	if d.Verdict.Granted || d.Verdict.Reason != types.ReasonExpired {
		t.Fatalf("expected expired denial, got %+v", d.Verdict)
	}
	if n := h.link.unlockCount(); n != 0 {
		t.Errorf("expected no unlock, got %d", n)
	}
	attempts := h.attempts.Attempts()
	if len(attempts) != 1 || attempts[0].Result != types.ResultDenied || attempts[0].Reason != "expired" {
		t.Errorf("expected one denied/expired attempt, got %+v", attempts)
	}
}

func TestArbiter_DisabledMethodKeepsOneTimeCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateOneTimeCode(ctx, "7777", nil)

	if _, err := h.settings.SetMethodEnabled(ctx, types.MethodPasscode, false); err != nil {
		t.Fatalf("SetMethodEnabled: %v", err)
	}
	d := h.presentPasscode(ctx, "7777")
	if d.Verdict.Granted || d.Verdict.Reason != types.ReasonMethodDisabled {
		t.Fatalf("expected method_disabled, got %+v", d.Verdict)
	}

	_, _ = h.settings.SetMethodEnabled(ctx, types.MethodPasscode, true)
	d = h.presentPasscode(ctx, "7777")
	if !d.Verdict.Granted {
		t.Fatalf("one-time code was consumed while passcode was disabled: %s", d.Verdict.Reason)
	}
	if n := len(h.attempts.Attempts()); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestArbiter_OneAttemptPerCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")

	h.presentPasscode(ctx, "1234")
	h.presentPasscode(ctx, "9999")
	h.presentPasscode(ctx, "12")
	h.link.mu.Lock()
	h.link.err = errors.New("no ack")
	h.link.mu.Unlock()
	h.presentPasscode(ctx, "1234")

	if n := len(h.attempts.Attempts()); n != 4 {
		t.Errorf("expected 4 attempts for 4 calls, got %d", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Actuation
// ═══════════════════════════════════════════════════════════════════════════════

func TestArbiter_UsesConfiguredHoldTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")
	if _, err := h.settings.SetHoldTime(ctx, 12); err != nil {
		t.Fatalf("SetHoldTime: %v", err)
	}

	h.presentPasscode(ctx, "1234")

	h.link.mu.Lock()
	defer h.link.mu.Unlock()
	if len(h.link.unlocks) != 1 || h.link.unlocks[0] != 12 {
		t.Errorf("expected unlock with hold 12, got %v", h.link.unlocks)
	}
}

func TestArbiter_ActuationFailureStillLoggedAsGranted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")
	h.link.err = errors.New("no ack")

	d := h.presentPasscode(ctx, "1234")
	if !d.Verdict.Granted {
		t.Fatalf("expected verdict to stay granted, got %s", d.Verdict.Reason)
	}
	if d.ActuationErr == nil {
		t.Fatal("expected ActuationErr")
	}

	attempts := h.attempts.Attempts()
	if len(attempts) != 1 || attempts[0].Result != types.ResultGranted {
		t.Errorf("expected granted attempt, got %+v", attempts)
	}
	s, _ := h.settings.Snapshot(ctx)
	if s.DoorState != types.DoorClosed {
		t.Errorf("door state must not change on a failed unlock, got %s", s.DoorState)
	}
}

func TestArbiter_GrantMarksDoorOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")

	h.presentPasscode(ctx, "1234")

	s, _ := h.settings.Snapshot(ctx)
	if s.DoorState != types.DoorOpen {
		t.Errorf("expected door open, got %s", s.DoorState)
	}
}

func TestArbiter_ManualOpenAndClose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d := h.arbiter.Open(ctx)
	if !d.Verdict.Granted || d.Verdict.Method != types.MethodManual {
		t.Fatalf("expected manual grant, got %+v", d.Verdict)
	}
	if err := h.arbiter.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	h.link.mu.Lock()
	unlocks, locks := len(h.link.unlocks), h.link.locks
	h.link.mu.Unlock()
	if unlocks != 1 || locks != 1 {
		t.Errorf("expected 1 unlock and 1 lock, got %d and %d", unlocks, locks)
	}

	attempts := h.attempts.Attempts()
	if len(attempts) != 1 || attempts[0].Method != types.MethodManual {
		t.Errorf("expected only the manual open to be logged, got %+v", attempts)
	}
	s, _ := h.settings.Snapshot(ctx)
	if s.DoorState != types.DoorClosed {
		t.Errorf("expected door closed, got %s", s.DoorState)
	}
}

func TestArbiter_CancelledCallerStillActuatesAndLogs(t *testing.T) {
	h := newHarness(t)
	_, _ = h.creds.CreateMainCode(context.Background(), "1234")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := h.presentPasscode(ctx, "1234")

	if !d.Verdict.Granted || d.ActuationErr != nil {
		t.Fatalf("expected completed grant, got %+v", d)
	}
	if n := len(h.attempts.Attempts()); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// Faults
// ═══════════════════════════════════════════════════════════════════════════════

func TestArbiter_SettingsFaultDeniesClosed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.creds.CreateMainCode(ctx, "1234")

	act := service.NewActuator(h.link)
	defer act.Close()
	arb := service.NewArbiter(
		service.NewSettingsService(brokenSettings{memory.NewSettingsStore()}),
		act,
		service.NewAccessLogger(h.attempts, service.AccessLoggerConfig{}, silentLogger()),
		service.ArbiterConfig{Logger: silentLogger(), Now: h.clock.Now},
	)

	d := arb.Evaluate(ctx, types.MethodPasscode, func(ctx context.Context, now time.Time) (types.Verdict, error) {
		return h.auth.VerifyPasscode(ctx, service.SourceKeypad, "1234", now)
	})
	if d.Verdict.Granted || d.Verdict.Reason != types.ReasonInternalError {
		t.Fatalf("expected internal_error denial, got %+v", d.Verdict)
	}
	if !errors.Is(d.Err, errStoreDown) {
		t.Errorf("expected settings error, got %v", d.Err)
	}
	if n := h.link.unlockCount(); n != 0 {
		t.Errorf("expected no unlock, got %d", n)
	}
	if n := len(h.attempts.Attempts()); n != 1 {
		t.Errorf("expected the fault to be logged, got %d attempts", n)
	}
}

func TestArbiter_VerifyErrorDeniesClosed(t *testing.T) {
	h := newHarness(t)

	d := h.arbiter.Evaluate(context.Background(), types.MethodFace, func(context.Context, time.Time) (types.Verdict, error) {
		return types.Granted(types.MethodFace), errStoreDown
	})
	if d.Verdict.Granted || d.Verdict.Reason != types.ReasonInternalError {
		t.Fatalf("expected internal_error, got %+v", d.Verdict)
	}
	if n := h.link.unlockCount(); n != 0 {
		t.Errorf("expected no unlock, got %d", n)
	}
}

func TestArbiter_MismatchedVerdictMethodDenied(t *testing.T) {
	h := newHarness(t)

	d := h.arbiter.Evaluate(context.Background(), types.MethodFace, func(context.Context, time.Time) (types.Verdict, error) {
		return types.Granted(types.MethodPasscode), nil
	})
	if d.Verdict.Granted || d.Verdict.Reason != types.ReasonInvalidCredential {
		t.Errorf("expected invalid_credential, got %+v", d.Verdict)
	}
}

func TestArbiter_UnknownMethodNotRecorded(t *testing.T) {
	h := newHarness(t)

	called := false
	d := h.arbiter.Evaluate(context.Background(), types.Method("retina"), func(context.Context, time.Time) (types.Verdict, error) {
		called = true
		return types.Granted(types.Method("retina")), nil
	})
	if !errors.Is(d.Err, service.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", d.Err)
	}
	if d.Verdict.Granted || d.Verdict.Method != types.Method("retina") {
		t.Errorf("expected denial under the presented method, got %+v", d.Verdict)
	}
	if called {
		t.Error("verify ran for an unknown method")
	}
	if n := len(h.attempts.Attempts()); n != 0 {
		t.Errorf("expected no attempt recorded, got %d", n)
	}
	if n := h.link.unlockCount(); n != 0 {
		t.Errorf("expected no unlock, got %d", n)
	}
}

func TestArbiter_LogFailureIsReported(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	flaky := &flakyAttemptStore{AccessAttemptStore: memory.NewAccessAttemptStore()}
	flaky.setFails(10)

	act := service.NewActuator(h.link)
	defer act.Close()
	arb := service.NewArbiter(h.settings, act,
		service.NewAccessLogger(flaky, service.AccessLoggerConfig{Attempts: 2}, silentLogger()),
		service.ArbiterConfig{Logger: silentLogger(), Now: h.clock.Now},
	)

	d := arb.Open(ctx)
	if !d.Verdict.Granted {
		t.Fatal("expected manual grant")
	}
	if !errors.Is(d.LogErr, errStoreDown) {
		t.Errorf("expected LogErr wrapping store error, got %v", d.LogErr)
	}
	if flaky.calls != 2 {
		t.Errorf("expected 2 write attempts, got %d", flaky.calls)
	}
}
