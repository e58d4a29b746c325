package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token bucket sized from a window/max pair.
// Stale buckets are dropped every five minutes.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*ipBucket

	limit      rate.Limit
	burst      int
	retryAfter int
}

func newRateLimiter(window time.Duration, max int) *rateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	retryAfter := int(window.Seconds()) / max
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &rateLimiter{
		buckets:    make(map[string]*ipBucket),
		limit:      rate.Limit(float64(max) / window.Seconds()),
		burst:      max,
		retryAfter: retryAfter,
	}
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	go l.janitor()

	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				model.Err(http.StatusTooManyRequests, "rate limit exceeded, try again later", nil))
			return
		}
		c.Next()
	}
}

func (l *rateLimiter) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	return b.limiter.Allow()
}

func (l *rateLimiter) janitor() {
	for {
		time.Sleep(5 * time.Minute)
		l.mu.Lock()
		for ip, b := range l.buckets {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func maxBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// requestLogger emits one line per request after it completes.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"ip", c.ClientIP(),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("http request", attrs...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("http request", attrs...)
		default:
			logger.Info("http request", attrs...)
		}
	}
}
