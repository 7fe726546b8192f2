package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter keeps one token bucket per client key. Idle buckets are
// swept once per window.
type rateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientLimiter
	every     rate.Limit
	burst     int
	window    time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(requests int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*clientLimiter),
		every:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		window:   window,
		now:      time.Now,
	}
}

// allow reports whether key may make a request now.
func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.window {
		for k, c := range l.limiters {
			if now.Sub(c.lastSeen) > l.window {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	c := l.limiters[key]
	if c == nil {
		c = &clientLimiter{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// limit wraps h with the per-client limit for scope. A server without
// a limiter passes everything through.
func (s *Server) limit(scope string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(scope+":"+clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			s.fail(w, http.StatusTooManyRequests, CodeRateLimit, "Rate limit exceeded", nil)
			return
		}
		h(w, r)
	}
}

// clientIP prefers the first X-Forwarded-For hop, then the peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
