package httpapi

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("%s %s status=%d from=%s dur=%s", r.Method, r.URL.Path, rec.status, r.RemoteAddr, time.Since(start))
	})
}

// adminOnly requires "Authorization: Bearer <token>".  An empty token
// leaves the route open, which is only allowed in dev.
func adminOnly(token string, next http.HandlerFunc) http.HandlerFunc {
	return requireBearer("admin token required", next, token)
}

// producerOnly accepts the device token or the admin token.  When the
// device token is unset the admin token alone guards the route.
func producerOnly(deviceToken, adminToken string, next http.HandlerFunc) http.HandlerFunc {
	return requireBearer("device token required", next, deviceToken, adminToken)
}

func requireBearer(msg string, next http.HandlerFunc, tokens ...string) http.HandlerFunc {
	var wants [][]byte
	for _, t := range tokens {
		if t != "" {
			wants = append(wants, []byte(t))
		}
	}
	if len(wants) == 0 {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		match := 0
		for _, want := range wants {
			match |= subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want)
		}
		if !ok || match != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="smartdoor"`)
			writeError(w, r, http.StatusUnauthorized, "unauthorized", msg)
			return
		}
		next(w, r)
	}
}
