package webhook

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-source-IP requests-per-minute cap (spec
// §4.6 middleware, default 100/min). Grounded on the teacher's
// internal/terminal/ratelimit.go, which keyed a map of
// golang.org/x/time/rate.Limiters by source identifier and evicted
// idle entries; generalized here from per-session terminal connections
// to per-source-IP webhook requests.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	rpm      int
	idleTTL  time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rpm requests per minute per
// source IP, bursting up to rpm.
func NewRateLimiter(rpm int) *RateLimiter {
	if rpm <= 0 {
		rpm = 100
	}
	rl := &RateLimiter{
		limiters: make(map[string]*visitor),
		rpm:      rpm,
		idleTTL:  10 * time.Minute,
	}
	return rl
}

// Allow reports whether a request from key may proceed, consuming one
// token if so.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.limiters[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(rl.rpm)/60.0), rl.rpm)}
		rl.limiters[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// Sweep removes visitors idle longer than idleTTL, bounding map growth
// under a long-lived server process.
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := time.Now().Add(-rl.idleTTL)
	for key, v := range rl.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// Middleware wraps next with the rate limiter, responding 429 when the
// per-source-IP budget is exhausted.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(sourceKey(r)) {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sourceKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
