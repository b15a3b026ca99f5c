package service_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store/memory"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testVault(t *testing.T, material string) *vault.Vault {
	t.Helper()
	k, err := vault.DeriveKey([]byte(material))
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	v, err := vault.New(k)
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	return v
}

// fakeLink records actuation requests instead of talking to a controller.
type fakeLink struct {
	mu      sync.Mutex
	unlocks []int
	locks   int
	err     error
	state   types.DoorState
	delay   time.Duration

	inFlight, maxInFlight int
}

func (f *fakeLink) Unlock(ctx context.Context, hold int) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks = append(f.unlocks, hold)
	return f.err
}

func (f *fakeLink) Lock(ctx context.Context) error {
	f.enter()
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	return f.err
}

func (f *fakeLink) GetState(ctx context.Context) types.DoorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == "" {
		return types.DoorUnknown
	}
	return f.state
}

func (f *fakeLink) enter() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	d := f.delay
	f.mu.Unlock()
	time.Sleep(d)
}

func (f *fakeLink) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeLink) unlockCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unlocks)
}

// flakyAttemptStore fails the first n writes, then delegates.
type flakyAttemptStore struct {
	*memory.AccessAttemptStore
	mu    sync.Mutex
	fails int
	calls int
}

var errStoreDown = errors.New("store unavailable")

func (s *flakyAttemptStore) RecordAttempt(ctx context.Context, rec store.AccessAttemptRecord) error {
	s.mu.Lock()
	s.calls++
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.AccessAttemptStore.RecordAttempt(ctx, rec)
}

func (s *flakyAttemptStore) setFails(n int) {
	s.mu.Lock()
	s.fails = n
	s.mu.Unlock()
}

// harness wires the service layer over in-memory stores and a fake link.
type harness struct {
	vault     *vault.Vault
	passcodes *memory.PasscodeStore
	attempts  *memory.AccessAttemptStore
	settings  *service.SettingsService
	creds     *service.CredentialService
	templates *service.TemplateRegistry
	auth      *service.Authenticator
	arbiter   *service.Arbiter
	link      *fakeLink
	clock     *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		vault:     testVault(t, "unit-test key material 0123456789"),
		passcodes: memory.NewPasscodeStore(),
		attempts:  memory.NewAccessAttemptStore(),
		link:      &fakeLink{},
		clock:     &fakeClock{t: t0},
	}
	h.settings = service.NewSettingsService(memory.NewSettingsStore())
	h.creds = service.NewCredentialService(h.passcodes, h.vault)
	h.creds.SetClock(h.clock.Now)
	h.templates = service.NewTemplateRegistry(memory.NewTemplateStore())
	h.auth = service.NewAuthenticator(h.creds, h.templates, service.AuthenticatorConfig{
		FaceScorer:        recognition.NewCosineScorer(silentLogger()),
		FingerprintScorer: recognition.NewSlotScorer(),
		Logger:            silentLogger(),
	})

	act := service.NewActuator(h.link)
	t.Cleanup(act.Close)
	accessLog := service.NewAccessLogger(h.attempts, service.AccessLoggerConfig{}, silentLogger())
	h.arbiter = service.NewArbiter(h.settings, act, accessLog, service.ArbiterConfig{
		Logger: silentLogger(),
		Now:    h.clock.Now,
	})
	return h
}

// presentPasscode runs a keypad or API presentation through the arbiter.
func (h *harness) presentPasscode(ctx context.Context, code string) service.Decision {
	return h.arbiter.Evaluate(ctx, types.MethodPasscode, func(ctx context.Context, now time.Time) (types.Verdict, error) {
		return h.auth.VerifyPasscode(ctx, service.SourceKeypad, code, now)
	})
}

func durationPtr(d time.Duration) *time.Duration { return &d }
