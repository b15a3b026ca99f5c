package httpapi

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/recognition"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/service"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

const defaultRecentLimit = 10

type Dependencies struct {
	Logger *log.Logger
	Addr   string
	// AdminToken guards management routes.  Empty disables the check.
	AdminToken string
	// DeviceToken is the credential access producers (door panel, camera
	// bridge) present on /v1/access routes.  The admin token is also
	// accepted there.  With both empty the routes are open.
	DeviceToken string

	Authenticator *service.Authenticator
	Arbiter       *service.Arbiter
	Credentials   *service.CredentialService
	Settings      *service.SettingsService
	AccessLog     *service.AccessLogger

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Now     func() time.Time
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux

	auth      *service.Authenticator
	arbiter   *service.Arbiter
	creds     *service.CredentialService
	settings  *service.SettingsService
	accessLog *service.AccessLogger
	now       func() time.Time
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	if d.Now == nil {
		d.Now = time.Now
	}

	s := &Server{
		logger:    d.Logger,
		mux:       mux,
		auth:      d.Authenticator,
		arbiter:   d.Arbiter,
		creds:     d.Credentials,
		settings:  d.Settings,
		accessLog: d.AccessLog,
		now:       d.Now,
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc { return adminOnly(d.AdminToken, h) }
	producer := func(h http.HandlerFunc) http.HandlerFunc { return producerOnly(d.DeviceToken, d.AdminToken, h) }

	// Fingerprint matches are only taken from the door controller, which
	// reports the sensor slot over the serial link.
	mux.HandleFunc("POST /v1/access/passcode", producer(s.handlePasscode))
	mux.HandleFunc("POST /v1/access/face", producer(s.handleFace))

	mux.HandleFunc("GET /v1/door/state", s.handleDoorState)
	mux.HandleFunc("POST /v1/door/open", admin(s.handleDoorOpen))
	mux.HandleFunc("POST /v1/door/close", admin(s.handleDoorClose))

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PATCH /v1/settings", admin(s.handlePatchSettings))

	mux.HandleFunc("POST /v1/passcodes/main", admin(s.handleCreateMain))
	mux.HandleFunc("POST /v1/passcodes/guest", admin(s.handleCreateGuest))
	mux.HandleFunc("GET /v1/passcodes/guest", admin(s.handleListGuests))
	mux.HandleFunc("DELETE /v1/passcodes/guest/{id}", admin(s.handleDeleteGuest))

	mux.HandleFunc("GET /v1/logs", admin(s.handleListLogs))
	mux.HandleFunc("GET /v1/logs/recent", admin(s.handleRecentLogs))

	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Access ───────────────────────────────────────────────────────────────────

func (s *Server) handlePasscode(w http.ResponseWriter, r *http.Request) {
	var req types.PasscodeAccessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	d := s.arbiter.Evaluate(r.Context(), types.MethodPasscode, func(ctx context.Context, now time.Time) (types.Verdict, error) {
		return s.auth.VerifyPasscode(ctx, passcodeSource(r), req.Code, now)
	})
	s.writeDecision(w, r, d)
}

func (s *Server) handleFace(w http.ResponseWriter, r *http.Request) {
	var req types.FaceAccessRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	d := s.arbiter.Evaluate(r.Context(), types.MethodFace, func(ctx context.Context, _ time.Time) (types.Verdict, error) {
		return s.auth.VerifyBiometric(ctx, types.MethodFace, recognition.Features{Embedding: req.Embedding}, 0)
	})
	s.writeDecision(w, r, d)
}

// passcodeSource keys the passcode throttle by remote host, so one
// client's misses do not throttle another client or the keypad.
func passcodeSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "api:" + host
}

// writeDecision answers 200 for every decision, granted or not.  A store
// fault that forced the deny is a 503.
func (s *Server) writeDecision(w http.ResponseWriter, r *http.Request, d service.Decision) {
	status := http.StatusOK
	if d.Err != nil {
		s.logger.Printf("access decision error method=%s: %v", d.Verdict.Method, d.Err)
		status = http.StatusServiceUnavailable
	}
	respond(w, r, status, accessResponse(d, s.now()))
}

// ── Door ─────────────────────────────────────────────────────────────────────

func (s *Server) handleDoorState(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, r, "door state", err)
		return
	}
	respond(w, r, http.StatusOK, types.DoorStateResponse{
		State:      st.DoorState,
		ServerTime: s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDoorOpen(w http.ResponseWriter, r *http.Request) {
	d := s.arbiter.Open(r.Context())
	status := http.StatusOK
	if d.ActuationErr != nil {
		status = http.StatusBadGateway
	}
	respond(w, r, status, accessResponse(d, s.now()))
}

func (s *Server) handleDoorClose(w http.ResponseWriter, r *http.Request) {
	if err := s.arbiter.Close(r.Context()); err != nil {
		s.logger.Printf("door close error: %v", err)
		writeError(w, r, http.StatusBadGateway, "door_fault", err.Error())
		return
	}
	s.handleDoorState(w, r)
}

// ── Settings ─────────────────────────────────────────────────────────────────

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.settings.Snapshot(r.Context())
	if err != nil {
		s.internalError(w, r, "get settings", err)
		return
	}
	respond(w, r, http.StatusOK, st)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var upd types.SettingsUpdate
	if err := decodeBody(r, &upd); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", err.Error())
		return
	}
	st, err := s.settings.Update(r.Context(), upd)
	if errors.Is(err, service.ErrInvalidHoldTime) {
		writeError(w, r, http.StatusBadRequest, "invalid_hold_time", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "patch settings", err)
		return
	}
	respond(w, r, http.StatusOK, st)
}

// ── Passcodes ────────────────────────────────────────────────────────────────

func (s *Server) handleCreateMain(w http.ResponseWriter, r *http.Request) {
	var req types.CreatePasscodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", err.Error())
		return
	}
	rec, err := s.creds.CreateMainCode(r.Context(), req.Code)
	if err != nil {
		s.passcodeError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, passcodeResponse(rec))
}

func (s *Server) handleCreateGuest(w http.ResponseWriter, r *http.Request) {
	var req types.CreatePasscodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_body", err.Error())
		return
	}

	var ttl *time.Duration
	if req.TTLMinutes != nil {
		d := time.Duration(*req.TTLMinutes) * time.Minute
		ttl = &d
	}

	create := s.creds.CreateGuestCode
	if req.OneTime {
		create = s.creds.CreateOneTimeCode
	}
	rec, err := create(r.Context(), req.Code, ttl)
	if err != nil {
		s.passcodeError(w, r, err)
		return
	}
	respond(w, r, http.StatusCreated, passcodeResponse(rec))
}

func (s *Server) handleListGuests(w http.ResponseWriter, r *http.Request) {
	views, err := s.creds.ListActiveGuestCodes(r.Context(), s.now().UTC())
	if err != nil {
		s.internalError(w, r, "list guest codes", err)
		return
	}
	if views == nil {
		views = []types.GuestCodeView{}
	}
	respond(w, r, http.StatusOK, map[string]any{"codes": views})
}

func (s *Server) handleDeleteGuest(w http.ResponseWriter, r *http.Request) {
	err := s.creds.DeleteGuestCode(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "not_found", "no such guest code")
		return
	}
	if err != nil {
		s.internalError(w, r, "delete guest code", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) passcodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPasscode):
		writeError(w, r, http.StatusBadRequest, "invalid_passcode", err.Error())
	case errors.Is(err, service.ErrInvalidTTL):
		writeError(w, r, http.StatusBadRequest, "invalid_ttl", err.Error())
	case errors.Is(err, service.ErrDuplicateCode):
		writeError(w, r, http.StatusConflict, "duplicate_code", err.Error())
	default:
		s.internalError(w, r, "create passcode", err)
	}
}

// ── Logs ─────────────────────────────────────────────────────────────────────

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	year, err := queryInt(r, "year", now.Year())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_year", err.Error())
		return
	}
	month, err := queryInt(r, "month", int(now.Month()))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_month", err.Error())
		return
	}

	recs, err := s.accessLog.ListMonth(r.Context(), year, time.Month(month))
	if errors.Is(err, service.ErrInvalidMonth) {
		writeError(w, r, http.StatusBadRequest, "invalid_month", err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "list logs", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"entries": accessLogEntries(recs)})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentLimit)
	if err != nil || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
		return
	}
	recs, err := s.accessLog.RecentGranted(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "recent logs", err)
		return
	}
	respond(w, r, http.StatusOK, map[string]any{"entries": accessLogEntries(recs)})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Printf("%s error: %v", op, err)
	writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
