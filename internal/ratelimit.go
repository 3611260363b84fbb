package internal

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// tokenBucket is a per-client-IP limiter. Slack retries aggressively on
// slow responses; the limiter caps how fast a single source can hit the
// endpoint without punishing everyone else.
type tokenBucket struct {
	mu      sync.Mutex
	clients map[string]*bucketState
	rps     float64
	burst   float64
	ttl     time.Duration
}

type bucketState struct {
	tokens float64
	last   time.Time
}

// NewRateLimitHandler wraps next with a per-IP token bucket. A non-positive
// rps disables limiting entirely.
func NewRateLimitHandler(next http.Handler, rps, burst int64, ttl time.Duration) http.Handler {
	if rps <= 0 {
		return next
	}
	limiter := &tokenBucket{
		clients: make(map[string]*bucketState),
		rps:     float64(rps),
		burst:   float64(burst),
		ttl:     ttl,
	}
	if limiter.burst <= 0 {
		limiter.burst = limiter.rps
		if limiter.burst < 1 {
			limiter.burst = 1
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.allow(clientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *tokenBucket) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)

	state, ok := l.clients[key]
	if !ok {
		l.clients[key] = &bucketState{tokens: l.burst - 1, last: now}
		return true
	}

	state.tokens += now.Sub(state.last).Seconds() * l.rps
	if state.tokens > l.burst {
		state.tokens = l.burst
	}
	state.last = now

	if state.tokens < 1 {
		return false
	}
	state.tokens--
	return true
}

// prune drops clients idle longer than the ttl so the map stays bounded.
func (l *tokenBucket) prune(now time.Time) {
	if l.ttl <= 0 {
		return
	}
	for key, state := range l.clients {
		if now.Sub(state.last) > l.ttl {
			delete(l.clients, key)
		}
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
