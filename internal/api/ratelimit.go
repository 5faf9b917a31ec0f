package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies one global token bucket. Paths in exempt
// (health checks, metric scrapes) bypass it.
func RateLimitMiddleware(rps int, exempt ...string) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)
	skip := make(map[string]bool, len(exempt))
	for _, p := range exempt {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.FullPath()] {
			c.Next()
			return
		}
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
