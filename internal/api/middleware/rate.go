package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleClient is how long a limiter is kept after its last request.
const idleClient = 10 * time.Minute

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	// KeyFunc selects the bucket of a request; the client IP by default.
	KeyFunc func(c *gin.Context) string
}

// DefaultRateLimitConfig returns the ingest rate limit configuration.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 500,
		Burst:             1000,
	}
}

// AgentKey buckets requests by agent ID, falling back to the client IP.
func AgentKey(c *gin.Context) string {
	if agent := c.GetHeader("X-Agent-ID"); agent != "" {
		return "agent:" + agent
	}
	return c.ClientIP()
}

// RateLimit creates a per-client rate limiting middleware.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	keyOf := cfg.KeyFunc
	if keyOf == nil {
		keyOf = func(c *gin.Context) string { return c.ClientIP() }
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	return func(c *gin.Context) {
		key := keyOf(c)
		now := time.Now()

		mu.Lock()
		if now.Sub(lastSweep) > idleClient {
			for k, cl := range clients {
				if now.Sub(cl.lastSeen) > idleClient {
					delete(clients, k)
				}
			}
			lastSweep = now
		}
		cl, exists := clients[key]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[key] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// GlobalRateLimit creates a global rate limiting middleware.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
