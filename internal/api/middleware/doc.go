// Package middleware provides the HTTP middleware of the collector.
//
// Middleware stack includes:
//   - CORS: Cross-origin access for browser dashboards
//   - RateLimit: Per-agent token bucket rate limiting
//   - RequestLogger: Structured request logging with zap
//
// Rate Limiting:
//   - Buckets keyed by agent ID or client IP
//   - Idle buckets are dropped after ten minutes
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.RateLimitConfig{
//		RequestsPerSecond: 500,
//		Burst:             1000,
//		KeyFunc:           middleware.AgentKey,
//	}))
package middleware
