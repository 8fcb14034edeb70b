package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// UserIDHeader is set by the identity proxy in front of the API.
const UserIDHeader = "X-User-ID"

// RateLimitConfig allows Max requests per Window per caller, refilled
// continuously.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc identifies the caller. Defaults to CallerKey.
	KeyFunc func(*http.Request) string
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

type limiters struct {
	cfg   RateLimitConfig
	every rate.Limit
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newLimiters(cfg RateLimitConfig) *limiters {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = CallerKey
	}
	return &limiters{
		cfg:     cfg,
		every:   rate.Limit(float64(cfg.Max) / cfg.Window.Seconds()),
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
}

// reserve takes one token for key. It returns the remaining tokens and, when
// denied, how long until a token is available.
func (l *limiters) reserve(key string) (remaining int, retryAfter time.Duration, ok bool) {
	now := l.now()

	l.mu.Lock()
	e, found := l.entries[key]
	if !found {
		e = &limiterEntry{limiter: rate.NewLimiter(l.every, l.cfg.Max)}
		l.entries[key] = e
	}
	e.seen = now
	l.mu.Unlock()

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return 0, delay, false
	}
	return int(math.Max(0, math.Floor(e.limiter.TokensAt(now)))), 0, true
}

// prune drops callers idle for two windows.
func (l *limiters) prune() {
	cutoff := l.now().Add(-2 * l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if e.seen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// RateLimit limits requests per caller. Idle callers are pruned every
// window until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiters(cfg)
	go func() {
		t := time.NewTicker(cfg.Window)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.prune()
			}
		}
	}()
	return l.middleware
}

func (l *limiters) middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.cfg.Max)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, ok := l.reserve(l.cfg.KeyFunc(r))
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerKey identifies authenticated shoppers by user id and everyone else
// (webhooks, operators) by client IP.
func CallerKey(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		return "user:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(ip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
