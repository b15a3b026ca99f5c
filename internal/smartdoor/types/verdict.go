package types

// Method identifies the channel an access attempt arrived through.
type Method string

const (
	MethodFace        Method = "face"
	MethodFingerprint Method = "fingerprint"
	MethodPasscode    Method = "passcode"
	MethodManual      Method = "manual"
)

func (m Method) Valid() bool {
	switch m {
	case MethodFace, MethodFingerprint, MethodPasscode, MethodManual:
		return true
	}
	return false
}

// Result is the logged outcome of an access attempt.
type Result string

const (
	ResultGranted Result = "granted"
	ResultDenied  Result = "denied"
)

// DenyReason explains a denied verdict.  Credential failures are expected
// outcomes and travel as reasons, never as errors.
type DenyReason string

const (
	ReasonNoMatch           DenyReason = "no_match"
	ReasonExpired           DenyReason = "expired"
	ReasonNotYetValid       DenyReason = "not_yet_valid"
	ReasonAlreadyUsed       DenyReason = "already_used"
	ReasonMethodDisabled    DenyReason = "method_disabled"
	ReasonBelowThreshold    DenyReason = "below_threshold"
	ReasonThrottled         DenyReason = "throttled"
	ReasonInvalidCredential DenyReason = "invalid_credential"

	// ReasonInternalError fails a decision closed when settings or the
	// credential store cannot be read.
	ReasonInternalError DenyReason = "internal_error"
)

// Verdict is the Authenticator's answer for a single presentation.
type Verdict struct {
	Granted bool
	Method  Method
	Reason  DenyReason // empty when granted

	// MatchedID is the passcode or template record that matched.
	MatchedID string
	// Confidence is the biometric score; nil for passcode and manual.
	Confidence *float64

	// Passcode audit fields.  Never the raw code.
	PasscodeMasked string
	PasscodeHash   string
}

func Granted(m Method) Verdict {
	return Verdict{Granted: true, Method: m}
}

func Denied(m Method, reason DenyReason) Verdict {
	return Verdict{Granted: false, Method: m, Reason: reason}
}

func (v Verdict) Result() Result {
	if v.Granted {
		return ResultGranted
	}
	return ResultDenied
}

// WithConfidence returns a copy carrying the given biometric score.
func (v Verdict) WithConfidence(score float64) Verdict {
	s := score
	v.Confidence = &s
	return v
}
