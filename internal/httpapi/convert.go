package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

var errBadBody = errors.New("invalid request body")

// decodeBody reads a JSON object, or a google.protobuf.Struct carrying
// the same fields, into dst.
func decodeBody(r *http.Request, dst any) error {
	var raw []byte
	if isProtobuf(r) {
		var st structpb.Struct
		if err := readProto(r, &st); err != nil {
			return errBadBody
		}
		b, err := st.MarshalJSON()
		if err != nil {
			return errBadBody
		}
		raw = b
	} else {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return errBadBody
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errBadBody
	}
	return nil
}

// toStruct renders v through its JSON form so protobuf and JSON clients
// see the same field names.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var st structpb.Struct
	if err := st.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return &st, nil
}

// ── Access ───────────────────────────────────────────────────────────────────

func accessResponse(d service.Decision, now time.Time) types.AccessResponse {
	resp := types.AccessResponse{
		OK:         d.Err == nil,
		Granted:    d.Verdict.Granted,
		Method:     d.Verdict.Method,
		Reason:     string(d.Verdict.Reason),
		Confidence: d.Verdict.Confidence,
		AttemptID:  d.AttemptID,
		ServerTime: now.UTC().Format(time.RFC3339),
	}
	if d.ActuationErr != nil {
		resp.DoorFault = d.ActuationErr.Error()
	}
	return resp
}

// ── Passcodes ────────────────────────────────────────────────────────────────

func passcodeResponse(rec store.PasscodeRecord) types.PasscodeResponse {
	resp := types.PasscodeResponse{
		ID:        rec.ID,
		Masked:    rec.CodeMasked,
		Main:      rec.IsMain,
		OneTime:   rec.IsOneTime,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rec.ValidUntil != nil {
		resp.ValidUntil = rec.ValidUntil.UTC().Format(time.RFC3339)
	}
	return resp
}

// ── Logs ─────────────────────────────────────────────────────────────────────

func accessLogEntries(recs []store.AccessAttemptRecord) []types.AccessLogEntry {
	out := make([]types.AccessLogEntry, 0, len(recs))
	for _, r := range recs {
		e := types.AccessLogEntry{
			ID:         r.ID,
			Method:     r.Method,
			Result:     r.Result,
			Reason:     r.Reason,
			Confidence: r.Confidence,
			Timestamp:  r.Timestamp.UTC().Format(time.RFC3339),
		}
		if r.PasscodeMasked != nil {
			e.PasscodeMasked = *r.PasscodeMasked
		}
		out = append(out, e)
	}
	return out
}
