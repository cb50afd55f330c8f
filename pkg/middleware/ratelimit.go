package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/InterNations/DataGridBundle/pkg/grid"
	"github.com/InterNations/DataGridBundle/pkg/logger"
	"github.com/InterNations/DataGridBundle/pkg/session"
)

type trackedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MassActionLimiter throttles requests that trigger a mass action. Other
// grid requests (paging, sorting, filtering) pass through untouched.
// Requests are keyed by the session id the client sent back, or by client
// IP when the session was minted for the request.
type MassActionLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*trackedLimiter
	rate      rate.Limit
	burst     int
	idle      time.Duration
	sweep     time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewMassActionLimiter allows rps mass actions per second with the given
// burst
func NewMassActionLimiter(rps float64, burst int) *MassActionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &MassActionLimiter{
		limiters: make(map[string]*trackedLimiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		sweep:    time.Minute,
		now:      time.Now,
	}
}

func (l *MassActionLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.sweep {
		for k, t := range l.limiters {
			if now.Sub(t.lastSeen) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	t, ok := l.limiters[key]
	if !ok {
		t = &trackedLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = t
	}
	t.lastSeen = now
	return t.limiter.AllowN(now, 1)
}

// Tracked is the number of keys currently holding a limiter
func (l *MassActionLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *MassActionLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !carriesMassAction(r) {
			next.ServeHTTP(w, r)
			return
		}

		key, ok := session.IDFromContext(r.Context())
		if !ok || session.IsNew(r.Context()) {
			key = getClientIP(r)
		}
		if !l.allow(key) {
			logger.Warn("Mass action rate limit exceeded for %s", key)
			writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// carriesMassAction reports whether the query selects an action, either
// as hash[__action_id] or as a top-level __action_id
func carriesMassAction(r *http.Request) bool {
	suffix := "[" + grid.KeyActionID + "]"
	for key, vals := range r.URL.Query() {
		if key != grid.KeyActionID && !strings.HasSuffix(key, suffix) {
			continue
		}
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

// getClientIP extracts the client IP, preferring proxy headers
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
