package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

func mustVerify(t *testing.T, h *harness, code string, now time.Time) types.Verdict {
	t.Helper()
	v, err := h.auth.VerifyPasscode(context.Background(), service.SourceKeypad, code, now)
	if err != nil {
		t.Fatalf("VerifyPasscode(%q): %v", code, err)
	}
	return v
}

// ── Passcodes ───────────────────────────────────────────────────────────────

func TestVerifyPasscode_MainCode(t *testing.T) {
	h := newHarness(t)
	main, _ := h.creds.CreateMainCode(context.Background(), "1234")

	v := mustVerify(t, h, "1234", t0.Add(365*24*time.Hour))
	if !v.Granted {
		t.Fatalf("expected grant, got reason=%s", v.Reason)
	}
	if v.MatchedID != main.ID {
		t.Errorf("expected match %s, got %s", main.ID, v.MatchedID)
	}
	if v.PasscodeMasked != "****1234" || v.PasscodeHash != vault.Hash("1234") {
		t.Errorf("unexpected audit fields masked=%q hash=%q", v.PasscodeMasked, v.PasscodeHash)
	}
}

func TestVerifyPasscode_DeniedReasons(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.creds.CreateMainCode(ctx, "1234")
	_, _ = h.creds.CreateGuestCode(ctx, "2345", durationPtr(10*time.Minute))

	future := t0.Add(time.Hour)
	if err := h.passcodes.Insert(ctx, store.PasscodeRecord{
		ID:         "later",
		CodeHash:   vault.Hash("3456"),
		CodeMasked: vault.Mask("3456"),
		ValidFrom:  &future,
		ValidUntil: ptrTime(future.Add(time.Hour)),
		CreatedAt:  t0,
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	cases := []struct {
		name string
		code string
		now  time.Time
		want types.DenyReason
	}{
		{"unknown code", "9999", t0, types.ReasonNoMatch},
		{"expired guest", "2345", t0.Add(11 * time.Minute), types.ReasonExpired},
		{"not yet valid", "3456", t0, types.ReasonNotYetValid},
		{"too short", "12", t0, types.ReasonInvalidCredential},
		{"letters", "12ab", t0, types.ReasonInvalidCredential},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := mustVerify(t, h, tc.code, tc.now)
			if v.Granted {
				t.Fatal("expected denial")
			}
			if v.Reason != tc.want {
				t.Errorf("expected reason %s, got %s", tc.want, v.Reason)
			}
		})
	}
}

func TestVerifyPasscode_GuestWindowInclusive(t *testing.T) {
	h := newHarness(t)
	_, _ = h.creds.CreateGuestCode(context.Background(), "2345", durationPtr(10*time.Minute))

	if v := mustVerify(t, h, "2345", t0.Add(10*time.Minute)); !v.Granted {
		t.Errorf("expected grant at validUntil, got %s", v.Reason)
	}
}

func TestVerifyPasscode_OneTimeCodeGrantsOnce(t *testing.T) {
	h := newHarness(t)
	_, _ = h.creds.CreateOneTimeCode(context.Background(), "7777", nil)

	if v := mustVerify(t, h, "7777", t0.Add(time.Minute)); !v.Granted {
		t.Fatalf("first use: expected grant, got %s", v.Reason)
	}
	v := mustVerify(t, h, "7777", t0.Add(2*time.Minute))
	if v.Granted || v.Reason != types.ReasonAlreadyUsed {
		t.Errorf("second use: expected already_used, got granted=%v reason=%s", v.Granted, v.Reason)
	}
}

func TestVerifyPasscode_OneTimeCodeConcurrent(t *testing.T) {
	h := newHarness(t)
	_, _ = h.creds.CreateOneTimeCode(context.Background(), "7777", nil)

	const n = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		reasons = map[types.DenyReason]int{}
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := h.auth.VerifyPasscode(context.Background(), service.SourceKeypad, "7777", t0.Add(time.Minute))
			if err != nil {
				t.Errorf("VerifyPasscode: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if v.Granted {
				granted++
			} else {
				reasons[v.Reason]++
			}
		}()
	}
	close(start)
	wg.Wait()

	if granted != 1 {
		t.Fatalf("expected exactly 1 grant, got %d", granted)
	}
	if reasons[types.ReasonAlreadyUsed] != n-1 {
		t.Errorf("expected %d already_used denials, got %v", n-1, reasons)
	}
}

func TestVerifyPasscode_Throttled(t *testing.T) {
	h := newHarness(t)
	_, _ = h.creds.CreateMainCode(context.Background(), "1234")

	auth := service.NewAuthenticator(h.creds, h.templates, service.AuthenticatorConfig{
		PasscodeRate:  rate.Every(time.Minute),
		PasscodeBurst: 2,
		Logger:        silentLogger(),
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		v, _ := auth.VerifyPasscode(ctx, service.SourceKeypad, "0000", t0)
		if v.Reason != types.ReasonNoMatch {
			t.Fatalf("attempt %d: expected no_match, got %s", i+1, v.Reason)
		}
	}
	v, _ := auth.VerifyPasscode(ctx, service.SourceKeypad, "1234", t0)
	if v.Granted || v.Reason != types.ReasonThrottled {
		t.Errorf("expected throttled, got granted=%v reason=%s", v.Granted, v.Reason)
	}

	v, _ = auth.VerifyPasscode(ctx, service.SourceKeypad, "1234", t0.Add(time.Minute))
	if !v.Granted {
		t.Errorf("expected grant once the limiter refills, got %s", v.Reason)
	}
}

func TestVerifyPasscode_RemoteMissesLeaveKeypadOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.creds.CreateMainCode(ctx, "1234"); err != nil {
		t.Fatalf("CreateMainCode: %v", err)
	}

	h.auth = service.NewAuthenticator(h.creds, h.templates, service.AuthenticatorConfig{
		PasscodeRate:  rate.Every(time.Minute),
		PasscodeBurst: 2,
		Logger:        silentLogger(),
	})

	const remote = "api:203.0.113.9"
	for i := 0; i < 10; i++ {
		_, _ = h.auth.VerifyPasscode(ctx, remote, "0000", t0)
	}
	v, _ := h.auth.VerifyPasscode(ctx, remote, "1234", t0)
	if v.Reason != types.ReasonThrottled {
		t.Fatalf("expected remote source throttled, got granted=%v reason=%s", v.Granted, v.Reason)
	}

	d := h.presentPasscode(ctx, "1234")
	if !d.Verdict.Granted {
		t.Fatalf("expected keypad grant after remote misses, got %s", d.Verdict.Reason)
	}
	if h.link.unlockCount() != 1 {
		t.Errorf("expected 1 unlock, got %d", h.link.unlockCount())
	}

	// A second remote host has its own bucket too.
	v, _ = h.auth.VerifyPasscode(ctx, "api:198.51.100.7", "1234", t0)
	if !v.Granted {
		t.Errorf("expected grant for an unrelated remote source, got %s", v.Reason)
	}
}

// ── Biometrics ──────────────────────────────────────────────────────────────

func TestVerifyBiometric_Face(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tpl, err := h.templates.EnrollFace(ctx, "alice", []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("EnrollFace: %v", err)
	}

	v, err := h.auth.VerifyBiometric(ctx, types.MethodFace, recognition.Features{Embedding: []float32{0.9, 0.1, 0}}, 0)
	if err != nil {
		t.Fatalf("VerifyBiometric: %v", err)
	}
	if !v.Granted || v.MatchedID != tpl.ID {
		t.Fatalf("expected grant on %s, got %+v", tpl.ID, v)
	}
	if v.Confidence == nil || *v.Confidence < recognition.DefaultFaceThreshold {
		t.Errorf("expected confidence above threshold, got %v", v.Confidence)
	}

	v, _ = h.auth.VerifyBiometric(ctx, types.MethodFace, recognition.Features{Embedding: []float32{0, 1, 0}}, 0)
	if v.Granted || v.Reason != types.ReasonBelowThreshold {
		t.Errorf("expected below_threshold, got %+v", v)
	}
	if v.Confidence == nil || *v.Confidence != 0 {
		t.Errorf("expected confidence 0 on the denial, got %v", v.Confidence)
	}
}

func TestVerifyBiometric_NoTemplatesIsBelowThreshold(t *testing.T) {
	h := newHarness(t)

	v, err := h.auth.VerifyBiometric(context.Background(), types.MethodFace, recognition.Features{Embedding: []float32{1, 2, 3}}, 0)
	if err != nil {
		t.Fatalf("VerifyBiometric: %v", err)
	}
	if v.Granted || v.Reason != types.ReasonBelowThreshold {
		t.Errorf("expected below_threshold, got %+v", v)
	}
}

func TestVerifyBiometric_InvalidFeatures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	v, err := h.auth.VerifyBiometric(ctx, types.MethodFace, recognition.Features{}, 0)
	if err != nil || v.Reason != types.ReasonInvalidCredential {
		t.Errorf("empty embedding: reason=%s err=%v", v.Reason, err)
	}
	v, err = h.auth.VerifyBiometric(ctx, types.MethodFingerprint, recognition.Features{}, 0)
	if err != nil || v.Reason != types.ReasonInvalidCredential {
		t.Errorf("missing slot: reason=%s err=%v", v.Reason, err)
	}
}

func TestVerifyBiometric_FingerprintSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.templates.EnrollFingerprint(ctx, "bob", 3)

	slot := 3
	if v, _ := h.auth.VerifyBiometric(ctx, types.MethodFingerprint, recognition.Features{Slot: &slot}, 0); !v.Granted {
		t.Errorf("expected grant for enrolled slot, got %s", v.Reason)
	}
	other := 4
	if v, _ := h.auth.VerifyBiometric(ctx, types.MethodFingerprint, recognition.Features{Slot: &other}, 0); v.Granted {
		t.Error("expected denial for unenrolled slot")
	}
}

func TestVerifyBiometric_UnsupportedMethod(t *testing.T) {
	h := newHarness(t)
	if _, err := h.auth.VerifyBiometric(context.Background(), types.MethodPasscode, recognition.Features{}, 0); err == nil {
		t.Error("expected ErrUnsupportedMethod")
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
