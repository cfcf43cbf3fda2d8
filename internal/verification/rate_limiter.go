package verification

import (
	"errors"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrRateLimited = errors.New("too many claim attempts, retry later")
)

// RateLimiter keeps one token bucket per caller guarding the claim handshake.
// The escrow attempt cap bounds guessing per escrow; the limiter bounds one
// caller spraying codes across many escrows.
type RateLimiter struct {
	mu        sync.Mutex
	callers   map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	now       func() time.Time

	cleanupTicker *time.Ticker
	stopChan      chan struct{}
	stopOnce      sync.Once
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterConfig holds configuration for the rate limiter
type RateLimiterConfig struct {
	// Burst is the number of attempts a fresh caller may make at once.
	Burst int
	// Window is the time after which a fully drained bucket is full again.
	Window time.Duration
	// CleanupPeriod is how often idle buckets are dropped.
	CleanupPeriod time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultRateLimiterConfig allows 10 claim attempts per caller per minute.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		Burst:         10,
		Window:        time.Minute,
		CleanupPeriod: 5 * time.Minute,
	}
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop to
// release it.
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimiterConfig()
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.CleanupPeriod <= 0 {
		config.CleanupPeriod = 5 * time.Minute
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	rl := &RateLimiter{
		callers:       make(map[string]*callerLimiter),
		limit:         rate.Every(config.Window / time.Duration(config.Burst)),
		burst:         config.Burst,
		idleAfter:     config.Window,
		now:           now,
		cleanupTicker: time.NewTicker(config.CleanupPeriod),
		stopChan:      make(chan struct{}),
	}
	go rl.cleanupLoop()

	return rl
}

// get returns the limiter of caller, creating a full one on first sight.
// rl.mu must be held.
func (rl *RateLimiter) get(caller string) *callerLimiter {
	cl, exists := rl.callers[caller]
	if !exists {
		cl = &callerLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.callers[caller] = cl
	}

	return cl
}

// Allow takes one token for caller or returns ErrRateLimited.
func (rl *RateLimiter) Allow(caller string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl := rl.get(caller)
	cl.lastSeen = now
	if !cl.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}

	return nil
}

// Remaining returns the attempts caller has left right now.
func (rl *RateLimiter) Remaining(caller string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.callers[caller]
	if !exists {
		return rl.burst
	}

	return int(math.Floor(cl.limiter.TokensAt(rl.now())))
}

// RetryAfter returns how long caller has to wait for the next token.
func (rl *RateLimiter) RetryAfter(caller string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, exists := rl.callers[caller]
	if !exists {
		return 0
	}

	tokens := cl.limiter.TokensAt(rl.now())
	if tokens >= 1 {
		return 0
	}

	return time.Duration((1 - tokens) / float64(rl.limit) * float64(time.Second))
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.cleanup()
		case <-rl.stopChan:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for caller, cl := range rl.callers {
		if now.Sub(cl.lastSeen) > rl.idleAfter {
			delete(rl.callers, caller)
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopChan)
	})
}

// Tracked returns the number of callers currently holding a bucket.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.callers)
}
