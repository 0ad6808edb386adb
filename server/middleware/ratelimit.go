package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ebogdum/hnsfs/metadata"
)

// idleLimiterTTL is how long an unused per-client limiter is kept
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiters hands out one token bucket per client key.
type ClientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewClientLimiters creates per-client limiters allowing limit requests per second
func NewClientLimiters(limit float64, burst int) *ClientLimiters {
	return &ClientLimiters{
		limiters: make(map[string]*clientLimiter),
		limit:    rate.Limit(limit),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether the client identified by key may proceed
func (c *ClientLimiters) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cl, ok := c.limiters[key]
	if !ok {
		c.sweep(now)
		cl = &clientLimiter{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// sweep drops idle limiters (caller must hold lock)
func (c *ClientLimiters) sweep(now time.Time) {
	for key, cl := range c.limiters {
		if now.Sub(cl.lastSeen) > idleLimiterTTL {
			delete(c.limiters, key)
		}
	}
}

// V1RateLimitMiddleware limits each client separately. Authenticated
// requests are keyed by user, anonymous ones by remote address.
func V1RateLimitMiddleware(limiters *ClientLimiters, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if !limiters.Allow(key) {
				logger.Warn("Request rate limited",
					zap.String("method", r.Method),
					zap.String("client", key),
					zap.String("user_agent", r.UserAgent()))

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				if _, err := w.Write([]byte(`{"code":"RATE_LIMIT_EXCEEDED","exception":"RateLimitExceededException","message":"Rate limit exceeded"}`)); err != nil {
					logger.Error("Failed to write rate limit error response", zap.Error(err))
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if user := metadata.PrincipalFromContext(r.Context()); user != metadata.DefaultOwner {
		return "user:" + user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}
