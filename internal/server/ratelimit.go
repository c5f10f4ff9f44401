// Token bucket rate limiting for the HTTP API, keyed by client IP.

package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter manages per-key token buckets. Keys are client IPs; stale buckets
// are dropped by cleanup so an idle server does not accumulate state.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newLimiter allows perMin requests per minute per key with the same burst.
// perMin 0 disables limiting.
func newLimiter(perMin int) *limiter {
	if perMin <= 0 {
		return nil
	}
	return &limiter{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(float64(perMin) / 60),
		burst:   perMin,
	}
}

// allow reports whether a request under key may proceed. A nil limiter
// allows everything.
func (l *limiter) allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.limiter.Allow()
}

// cleanup drops buckets idle for longer than maxIdle and full again.
func (l *limiter) cleanup(maxIdle time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := time.Now().Add(-maxIdle)
	for key, b := range l.buckets {
		if b.lastSeen.Before(stale) && b.limiter.Tokens() >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// cleanupLoop runs cleanup every 10 minutes until stop is closed.
func (l *limiter) cleanupLoop(stop <-chan struct{}) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(10 * time.Minute)
		case <-stop:
			return
		}
	}
}

// clientIP extracts the request's client IP, preferring X-Forwarded-For
// when a proxy set it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := range len(fwd) {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects requests over the limit with 429. Reads and writes get
// independent budgets.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := s.readLimiter
		if isMutating(r.Method) {
			l = s.writeLimiter
		}
		if !l.allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isMutating returns true for HTTP methods that modify state.
func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}
