package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SourceKeypad is the passcode source for codes typed on the door's own
// keypad.  Other producers pass their own source key, such as
// "api:<remote host>".
const SourceKeypad = "keypad"

// overflowSource collects every new source once the table is full of
// sources that are still throttled.
const overflowSource = "\x00overflow"

const defaultMaxThrottleSources = 1024

// passcodeThrottle keeps one token bucket per passcode source, so misses
// from one source never spend another source's tokens.
type passcodeThrottle struct {
	limit      rate.Limit
	burst      int
	maxSources int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPasscodeThrottle(limit rate.Limit, burst, maxSources int) *passcodeThrottle {
	if burst <= 0 {
		burst = 1
	}
	if maxSources <= 0 {
		maxSources = defaultMaxThrottleSources
	}
	return &passcodeThrottle{
		limit:      limit,
		burst:      burst,
		maxSources: maxSources,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Allow spends one token from source's bucket at now.
func (t *passcodeThrottle) Allow(source string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiterFor(source, now).AllowN(now, 1)
}

func (t *passcodeThrottle) limiterFor(source string, now time.Time) *rate.Limiter {
	if lim, ok := t.limiters[source]; ok {
		return lim
	}
	if len(t.limiters) >= t.maxSources {
		t.evictIdle(now)
	}
	// The keypad always gets its own bucket.
	if len(t.limiters) >= t.maxSources && source != SourceKeypad {
		source = overflowSource
		if lim, ok := t.limiters[source]; ok {
			return lim
		}
	}
	lim := rate.NewLimiter(t.limit, t.burst)
	t.limiters[source] = lim
	return lim
}

// evictIdle drops buckets that have refilled completely; a fresh bucket
// would behave the same.
func (t *passcodeThrottle) evictIdle(now time.Time) {
	for src, lim := range t.limiters {
		if src == SourceKeypad {
			continue
		}
		if lim.TokensAt(now) >= float64(t.burst) {
			delete(t.limiters, src)
		}
	}
}

func (t *passcodeThrottle) sources() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
