package cmd

import (
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
)

type passcodeView struct {
	ID         string `json:"id" yaml:"id"`
	Masked     string `json:"masked" yaml:"masked"`
	Main       bool   `json:"main" yaml:"main"`
	OneTime    bool   `json:"one_time" yaml:"one_time"`
	ValidUntil string `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
	CreatedAt  string `json:"created_at" yaml:"created_at"`
}

func newPasscodeView(r store.PasscodeRecord) passcodeView {
	v := passcodeView{
		ID:        r.ID,
		Masked:    r.CodeMasked,
		Main:      r.IsMain,
		OneTime:   r.IsOneTime,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.ValidUntil != nil {
		v.ValidUntil = r.ValidUntil.UTC().Format(time.RFC3339)
	}
	return v
}

type templateView struct {
	ID        string `json:"id" yaml:"id"`
	Kind      string `json:"kind" yaml:"kind"`
	Label     string `json:"label" yaml:"label"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
	CreatedAt string `json:"created_at" yaml:"created_at"`
}

func newTemplateView(r store.TemplateRecord) templateView {
	return templateView{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Label:     r.Label,
		Bytes:     len(r.Blob),
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

type attemptView struct {
	ID         string   `json:"id" yaml:"id"`
	Timestamp  string   `json:"timestamp" yaml:"timestamp"`
	Method     string   `json:"method" yaml:"method"`
	Result     string   `json:"result" yaml:"result"`
	Reason     string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	Passcode   string   `json:"passcode_masked,omitempty" yaml:"passcode_masked,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

func newAttemptViews(recs []store.AccessAttemptRecord) []attemptView {
	out := make([]attemptView, 0, len(recs))
	for _, r := range recs {
		v := attemptView{
			ID:         r.ID,
			Timestamp:  r.Timestamp.UTC().Format(time.RFC3339),
			Method:     string(r.Method),
			Result:     string(r.Result),
			Reason:     r.Reason,
			Confidence: r.Confidence,
		}
		if r.PasscodeMasked != nil {
			v.Passcode = *r.PasscodeMasked
		}
		out = append(out, v)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
