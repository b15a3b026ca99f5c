package httpapi

import (
	"io"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
)

// maxRequestBody caps the request body size for both protobuf and JSON
// payloads.  A 512-dimension face embedding is about 10 KiB as JSON.
const maxRequestBody = 64 << 10

const protobufContentType = "application/x-protobuf"

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == protobufContentType ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// wantsProtobuf reports whether the response should be protobuf: the
// client asked for it, or sent protobuf and expressed no preference.
func wantsProtobuf(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, protobufContentType) || strings.Contains(accept, "application/protobuf") {
		return true
	}
	return (accept == "" || accept == "*/*") && isProtobuf(r)
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
