package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/vault"
)

var ErrUnsupportedMethod = errors.New("method has no biometric scorer")

// Scorer compares presented features with enrolled templates.  Feature
// extraction is outside this process.
type Scorer interface {
	Score(ctx context.Context, f recognition.Features, enrolled []store.TemplateRecord) (recognition.Match, error)
}

type AuthenticatorConfig struct {
	FaceScorer        Scorer
	FingerprintScorer Scorer

	FaceThreshold        float64
	FingerprintThreshold float64

	// PasscodeRate and PasscodeBurst throttle passcode attempts per
	// source.  A zero rate disables throttling.
	PasscodeRate  rate.Limit
	PasscodeBurst int
	// MaxPasscodeSources bounds the per-source table.  Defaults to 1024.
	MaxPasscodeSources int

	Logger *log.Logger
}

// Authenticator turns a presented credential into a Verdict.  Credential
// failures are verdicts; only store faults are returned as errors.
type Authenticator struct {
	creds      *CredentialService
	templates  *TemplateRegistry
	scorers    map[types.Method]Scorer
	thresholds map[types.Method]float64
	throttle   *passcodeThrottle
	logger     *log.Logger
}

func NewAuthenticator(creds *CredentialService, templates *TemplateRegistry, cfg AuthenticatorConfig) *Authenticator {
	if cfg.FaceThreshold <= 0 {
		cfg.FaceThreshold = recognition.DefaultFaceThreshold
	}
	if cfg.FingerprintThreshold <= 0 {
		cfg.FingerprintThreshold = recognition.DefaultFingerprintThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	a := &Authenticator{
		creds:     creds,
		templates: templates,
		scorers:   map[types.Method]Scorer{},
		thresholds: map[types.Method]float64{
			types.MethodFace:        cfg.FaceThreshold,
			types.MethodFingerprint: cfg.FingerprintThreshold,
		},
		logger: cfg.Logger,
	}
	if cfg.FaceScorer != nil {
		a.scorers[types.MethodFace] = cfg.FaceScorer
	}
	if cfg.FingerprintScorer != nil {
		a.scorers[types.MethodFingerprint] = cfg.FingerprintScorer
	}
	if cfg.PasscodeRate > 0 {
		a.throttle = newPasscodeThrottle(cfg.PasscodeRate, cfg.PasscodeBurst, cfg.MaxPasscodeSources)
	}
	return a
}

// Threshold returns the configured acceptance score for m.
func (a *Authenticator) Threshold(m types.Method) float64 {
	return a.thresholds[m]
}

// VerifyPasscode matches raw against every active candidate.  A one-time
// match is consumed in the same call and only the consuming call is
// granted.  source selects the throttle bucket (SourceKeypad for the
// door keypad).
func (a *Authenticator) VerifyPasscode(ctx context.Context, source, raw string, now time.Time) (types.Verdict, error) {
	v := types.Denied(types.MethodPasscode, types.ReasonInvalidCredential)
	if raw != "" {
		v.PasscodeMasked = vault.Mask(raw)
		v.PasscodeHash = vault.Hash(raw)
	}
	if err := ValidatePasscode(raw); err != nil {
		return v, nil
	}
	if a.throttle != nil && !a.throttle.Allow(source, now) {
		v.Reason = types.ReasonThrottled
		return v, nil
	}

	candidates, err := a.creds.FindActiveCandidates(ctx, now)
	if err != nil {
		return v, fmt.Errorf("verify passcode: %w", err)
	}

	// Compare against every candidate so timing does not depend on which
	// record matched.
	var match *store.PasscodeRecord
	for i := range candidates {
		if vault.Equal(candidates[i].CodeHash, v.PasscodeHash) && match == nil {
			match = &candidates[i]
		}
	}

	if match != nil {
		v.MatchedID = match.ID
		if match.IsOneTime {
			consumed, err := a.creds.MarkUsed(ctx, match.ID)
			if err != nil {
				return v, fmt.Errorf("consume one-time code: %w", err)
			}
			if !consumed {
				v.Reason = types.ReasonAlreadyUsed
				return v, nil
			}
		}
		v.Granted = true
		v.Reason = ""
		return v, nil
	}

	reason, err := a.classifyMiss(ctx, v.PasscodeHash, now)
	if err != nil {
		return v, err
	}
	v.Reason = reason
	return v, nil
}

// classifyMiss explains why a code with no active match was refused.
func (a *Authenticator) classifyMiss(ctx context.Context, codeHash string, now time.Time) (types.DenyReason, error) {
	recs, err := a.creds.FindByHash(ctx, codeHash)
	if err != nil {
		return "", fmt.Errorf("classify passcode: %w", err)
	}
	reason := types.ReasonNoMatch
	for _, r := range recs {
		if r.IsMain || r.ValidUntil == nil {
			continue
		}
		switch {
		case r.IsOneTime && r.Used:
			return types.ReasonAlreadyUsed, nil
		case now.After(*r.ValidUntil):
			reason = types.ReasonExpired
		case r.ValidFrom != nil && now.Before(*r.ValidFrom) && reason == types.ReasonNoMatch:
			reason = types.ReasonNotYetValid
		}
	}
	return reason, nil
}

// VerifyBiometric scores f against the templates enrolled for method.
// A threshold <= 0 uses the configured one.
func (a *Authenticator) VerifyBiometric(ctx context.Context, method types.Method, f recognition.Features, threshold float64) (types.Verdict, error) {
	scorer, ok := a.scorers[method]
	if !ok {
		return types.Verdict{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if threshold <= 0 {
		threshold = a.thresholds[method]
	}

	enrolled, err := a.templates.List(ctx, store.TemplateKind(method))
	if err != nil {
		return types.Denied(method, types.ReasonInternalError), fmt.Errorf("load templates: %w", err)
	}

	m, err := scorer.Score(ctx, f, enrolled)
	if errors.Is(err, recognition.ErrInvalidFeatures) {
		return types.Denied(method, types.ReasonInvalidCredential), nil
	}
	if err != nil {
		return types.Denied(method, types.ReasonInternalError), fmt.Errorf("score %s: %w", method, err)
	}

	if m.TemplateID != "" && m.Score >= threshold {
		v := types.Granted(method).WithConfidence(m.Score)
		v.MatchedID = m.TemplateID
		return v, nil
	}
	return types.Denied(method, types.ReasonBelowThreshold).WithConfidence(m.Score), nil
}
