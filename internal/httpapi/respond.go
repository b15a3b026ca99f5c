package httpapi

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respond writes v as protobuf when the client negotiated it, JSON
// otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsProtobuf(r) {
		st, err := toStruct(v)
		if err == nil {
			writeProto(w, status, st)
			return
		}
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	respond(w, r, status, errorBody{OK: false, Error: code, Message: msg})
}
