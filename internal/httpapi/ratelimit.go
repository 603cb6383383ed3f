package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL drops limiters for clients that have been quiet this long.
	IdleTTL time.Duration
	// MaxClients bounds how many client limiters are tracked at once; the
	// least recently seen client is evicted first.
	MaxClients int
}

type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients *expirable.LRU[string, *rate.Limiter]
	now     func() time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RPS <= 0 {
		cfg.RPS = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	return &RateLimiter{
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		clients: expirable.NewLRU[string, *rate.Limiter](cfg.MaxClients, nil, cfg.IdleTTL),
		now:     time.Now,
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip != "" && !l.allow(ip) {
			w.Header().Set("Retry-After", "1")
			writeError(w, requestIDFromRequest(r), http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.clients.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
	}
	// Re-adding restarts the idle timer.
	l.clients.Add(key, limiter)
	return limiter.AllowN(l.now(), 1)
}

// Tracked reports how many clients currently hold a limiter.
func (l *RateLimiter) Tracked() int {
	return l.clients.Len()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
