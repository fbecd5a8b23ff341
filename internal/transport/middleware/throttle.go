package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/frahmantamala/familyguard/internal"
	"github.com/frahmantamala/familyguard/internal/metrics"
	"github.com/frahmantamala/familyguard/internal/transport"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle is a per client IP token bucket in front of the API. It guards
// the transport only; operation rate limiting lives in the gate.
type Throttle struct {
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	limit     rate.Limit
	burst     int
	idle      time.Duration
	lastPrune time.Time
	now       func() time.Time
	base      *transport.BaseHandler
}

func NewThrottle(perSecond float64, burst int, lg *slog.Logger) *Throttle {
	if burst < 1 {
		burst = 1
	}
	return &Throttle{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		base:    transport.NewBaseHandler(lg),
	}
}

func (t *Throttle) limiterFor(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastPrune) >= t.idle {
		t.prune(now)
		t.lastPrune = now
	}
	c, ok := t.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Allow reports whether a request from ip may proceed.
func (t *Throttle) Allow(ip string) bool {
	return t.limiterFor(ip).Allow()
}

// Prune forgets clients idle for longer than the idle window.
func (t *Throttle) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prune(t.now())
}

// Clients is the number of tracked client addresses.
func (t *Throttle) Clients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// prune must be called with t.mu held.
func (t *Throttle) prune(now time.Time) int {
	cutoff := now.Add(-t.idle)
	removed := 0
	for ip, c := range t.clients {
		if c.lastSeen.Before(cutoff) {
			delete(t.clients, ip)
			removed++
		}
	}
	return removed
}

func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := transport.ClientIP(r)
		if !t.Allow(ip) {
			metrics.HTTPThrottled.Inc()
			w.Header().Set("Retry-After", "1")
			t.base.WriteAppError(w, internal.NewRateLimitError("too many requests"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
