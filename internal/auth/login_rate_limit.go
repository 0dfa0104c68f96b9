package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"shetmall-auth/internal/observability"
)

const defaultLimiterCacheSize = 5000

// LoginRateLimiter throttles login attempts per client IP with a token bucket.
// Least recently seen IPs are evicted once the cache is full.
type LoginRateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	visitors *lru.Cache[string, *rate.Limiter]
	clientIP func(*http.Request) string
	now      func() time.Time
}

func NewLoginRateLimiter(perSecond float64, burst int, ips observability.ClientIPResolver) *LoginRateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 10
	}

	visitors, _ := lru.New[string, *rate.Limiter](defaultLimiterCacheSize)

	return &LoginRateLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		visitors: visitors,
		clientIP: ips.ClientIP,
		now:      time.Now,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(l.clientIP(r))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	limiter, ok := l.visitors.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.visitors.Add(ip, limiter)
	}
	l.mu.Unlock()

	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	reservation.CancelAt(now)

	if delay < time.Second {
		delay = time.Second
	}
	return false, delay
}
