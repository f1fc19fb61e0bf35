package server

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const userContextKey = "user"

// identityMiddleware extracts the caller identity resolved by the
// authenticating gateway in front of this service. Requests without an
// identity are rejected; token verification itself happens upstream.
func identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-User-Id")
		groupsHeader := c.GetHeader("X-User-Groups")
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}

		var groups []string
		for _, g := range strings.Split(groupsHeader, ",") {
			if g = strings.TrimSpace(g); g != "" {
				groups = append(groups, g)
			}
		}

		c.Set(userContextKey, User{ID: id, Groups: groups})
		c.Next()
	}
}

func currentUser(c *gin.Context) User {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(User); ok {
			return user
		}
	}
	return User{}
}

// maxTrackedCallers bounds the limiter map. When the cap is hit the
// map is reset wholesale, refilling every caller's bucket; a brief
// over-admission beats unbounded growth from churning caller keys.
const maxTrackedCallers = 4096

// clientLimiters hands out one token bucket per caller id.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientLimiters) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedCallers {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = limiter
	}
	return limiter
}

// rateLimitMiddleware throttles per caller, keyed by user id with the
// client IP as fallback for unauthenticated paths.
func rateLimitMiddleware(limiters *clientLimiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-User-Id")
		if key == "" {
			key = c.ClientIP()
		}
		if !limiters.get(key).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
