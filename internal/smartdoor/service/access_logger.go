package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/store"
	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

// ErrLogSpooled means the store rejected an attempt and it was written to
// the durable spool instead.  The attempt is not lost; the flusher will
// replay it.
var ErrLogSpooled = errors.New("access attempt spooled for replay")

var ErrInvalidMonth = errors.New("month must be 1-12")

type AccessLoggerConfig struct {
	// Attempts is how many times a store write is tried.  Defaults to 3.
	Attempts int
	// Backoff is multiplied by the attempt number between tries.
	Backoff time.Duration
	// SpoolPath is the append-only fallback file.  Empty disables the
	// spool, so persistent store failures are returned to the caller.
	SpoolPath string
	// FlushInterval is how often the spool is replayed.  Defaults to 30s.
	FlushInterval time.Duration
}

// AccessLogger records every access decision.  A write either reaches
// the store or is fsynced to the spool before Record returns.
type AccessLogger struct {
	store  store.AccessAttemptStore
	cfg    AccessLoggerConfig
	logger *log.Logger

	spoolMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// spoolEntry is the on-disk form of a spooled attempt.
type spoolEntry struct {
	ID          string   `cbor:"1,keyasint"`
	Method      string   `cbor:"2,keyasint"`
	Result      string   `cbor:"3,keyasint"`
	Reason      string   `cbor:"4,keyasint,omitempty"`
	Masked      *string  `cbor:"5,keyasint,omitempty"`
	Hash        *string  `cbor:"6,keyasint,omitempty"`
	Confidence  *float64 `cbor:"7,keyasint,omitempty"`
	TimestampMs int64    `cbor:"8,keyasint"`
}

func NewAccessLogger(st store.AccessAttemptStore, cfg AccessLoggerConfig, logger *log.Logger) *AccessLogger {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &AccessLogger{store: st, cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Record writes rec with bounded retry, falling back to the spool.
func (l *AccessLogger) Record(ctx context.Context, rec store.AccessAttemptRecord) error {
	rec = normalizeAttempt(rec)

	var err error
	for attempt := 1; attempt <= l.cfg.Attempts; attempt++ {
		if err = l.store.RecordAttempt(ctx, rec); err == nil {
			return nil
		}
		l.logger.Printf("access log write failed id=%s attempt=%d/%d: %v", rec.ID, attempt, l.cfg.Attempts, err)
		if attempt == l.cfg.Attempts || ctx.Err() != nil {
			break
		}
		if !sleepCtx(ctx, l.cfg.Backoff*time.Duration(attempt)) {
			break
		}
	}

	if l.cfg.SpoolPath == "" {
		return fmt.Errorf("record attempt %s: %w", rec.ID, err)
	}
	if serr := l.spool(rec); serr != nil {
		return fmt.Errorf("record attempt %s: %w; spool: %w", rec.ID, err, serr)
	}
	l.logger.Printf("access log write spooled id=%s path=%s", rec.ID, l.cfg.SpoolPath)
	return fmt.Errorf("%w: %v", ErrLogSpooled, err)
}

func normalizeAttempt(rec store.AccessAttemptRecord) store.AccessAttemptRecord {
	if c := rec.Confidence; c != nil && (math.IsNaN(*c) || math.IsInf(*c, 0)) {
		rec.Confidence = nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

func (l *AccessLogger) spool(rec store.AccessAttemptRecord) error {
	b, err := cbor.Marshal(spoolEntry{
		ID:          rec.ID,
		Method:      string(rec.Method),
		Result:      string(rec.Result),
		Reason:      rec.Reason,
		Masked:      rec.PasscodeMasked,
		Hash:        rec.PasscodeHash,
		Confidence:  rec.Confidence,
		TimestampMs: rec.Timestamp.UnixMilli(),
	})
	if err != nil {
		return err
	}

	l.spoolMu.Lock()
	defer l.spoolMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.cfg.SpoolPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(l.cfg.SpoolPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Flush replays the spool into the store and returns how many entries
// were written.  Entries that still fail stay in the spool.
func (l *AccessLogger) Flush(ctx context.Context) (int, error) {
	if l.cfg.SpoolPath == "" {
		return 0, nil
	}
	l.spoolMu.Lock()
	defer l.spoolMu.Unlock()

	entries, err := l.readSpool()
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	for i, e := range entries {
		if err := l.store.RecordAttempt(ctx, e.record()); err != nil {
			if werr := l.rewriteSpool(entries[i:]); werr != nil {
				return i, fmt.Errorf("flush spool: %w; rewrite: %w", err, werr)
			}
			return i, fmt.Errorf("flush spool: %w", err)
		}
	}
	if err := os.Remove(l.cfg.SpoolPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return len(entries), err
	}
	return len(entries), nil
}

// Pending reports how many attempts are waiting in the spool.
func (l *AccessLogger) Pending() (int, error) {
	if l.cfg.SpoolPath == "" {
		return 0, nil
	}
	l.spoolMu.Lock()
	defer l.spoolMu.Unlock()
	entries, err := l.readSpool()
	return len(entries), err
}

// readSpool decodes the spool as a CBOR sequence.  A torn final entry
// (crash mid-append) is dropped; its Record call never returned.
func (l *AccessLogger) readSpool() ([]spoolEntry, error) {
	b, err := os.ReadFile(l.cfg.SpoolPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []spoolEntry
	dec := cbor.NewDecoder(bytes.NewReader(b))
	for {
		var e spoolEntry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.logger.Printf("access log spool: dropping undecodable tail after %d entries: %v", len(out), err)
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *AccessLogger) rewriteSpool(entries []spoolEntry) error {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}

	tmp := l.cfg.SpoolPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.cfg.SpoolPath)
}

func (e spoolEntry) record() store.AccessAttemptRecord {
	return store.AccessAttemptRecord{
		ID:             e.ID,
		Method:         types.Method(e.Method),
		Result:         types.Result(e.Result),
		Reason:         e.Reason,
		PasscodeMasked: e.Masked,
		PasscodeHash:   e.Hash,
		Confidence:     e.Confidence,
		Timestamp:      time.UnixMilli(e.TimestampMs).UTC(),
	}
}

// ListMonth returns the attempts recorded in the given calendar month
// (UTC), newest first.
func (l *AccessLogger) ListMonth(ctx context.Context, year int, month time.Month) ([]store.AccessAttemptRecord, error) {
	if month < time.January || month > time.December {
		return nil, ErrInvalidMonth
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return l.store.ListAttempts(ctx, from, from.AddDate(0, 1, 0))
}

// RecentGranted returns up to limit granted attempts, newest first.
func (l *AccessLogger) RecentGranted(ctx context.Context, limit int) ([]store.AccessAttemptRecord, error) {
	return l.store.RecentGranted(ctx, limit)
}

// Start replays the spool now and then every FlushInterval until ctx is
// cancelled or Stop is called.
func (l *AccessLogger) Start(ctx context.Context) {
	if l.cfg.SpoolPath == "" {
		close(l.done)
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.loop(ctx)
}

func (l *AccessLogger) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *AccessLogger) loop(ctx context.Context) {
	defer close(l.done)

	l.flush(ctx)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.flush(ctx)
		}
	}
}

func (l *AccessLogger) flush(ctx context.Context) {
	n, err := l.Flush(ctx)
	if err != nil {
		l.logger.Printf("access log spool flush error: replayed=%d err=%v", n, err)
		return
	}
	if n > 0 {
		l.logger.Printf("access log spool flushed: replayed=%d", n)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
