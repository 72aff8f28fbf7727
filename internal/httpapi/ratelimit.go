package httpapi

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/chaz8081/sandgarden/internal/syncutil"
)

const (
	limiterMaxAge       = 10 * time.Minute
	limiterCleanupEvery = 5 * time.Minute
)

// ipRateLimiter keeps one token bucket per client IP for the setting
// routes. Script uploads and the event stream are not limited.
type ipRateLimiter struct {
	limit rate.Limit
	burst int
	clock clockwork.Clock

	mu          syncutil.Mutex
	limiters    map[string]*limiterEntry
	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPRateLimiter(perSecond float64, clock clockwork.Clock) *ipRateLimiter {
	return &ipRateLimiter{
		limit:       rate.Limit(perSecond),
		burst:       max(1, int(math.Ceil(perSecond*2))),
		clock:       clock,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: clock.Now(),
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Sub(rl.lastCleanup) > limiterCleanupEvery {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > limiterMaxAge {
				delete(rl.limiters, k)
			}
		}
		rl.lastCleanup = now
	}

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (rl *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := remoteIP(r.RemoteAddr)
		if !rl.allow(ip) {
			slog.Warn("[HTTP] rate limit exceeded", "ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
