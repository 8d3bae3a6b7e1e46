package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/secure-auth/internal/handler"
)

type RateLimiterConfig struct {
	RPS   float64       `mapstructure:"rps"`
	Burst int           `mapstructure:"burst"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// RateLimiter keeps one token bucket per client IP. Idle buckets expire
// after TTL.
type RateLimiter struct {
	limiters *gocache.Cache
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{
		limiters: gocache.New(ttl, 2*ttl),
		rps:      rate.Limit(config.RPS),
		burst:    config.Burst,
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	if v, ok := rl.limiters.Get(ip); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(rl.rps, rl.burst)
	if err := rl.limiters.Add(ip, l, gocache.DefaultExpiration); err != nil {
		// lost the race; use the stored one
		if v, ok := rl.limiters.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		l := rl.limiterFor(ip)
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, handler.NewErrorResponse("rate limit exceeded"))
			return
		}
		rl.limiters.Set(ip, l, gocache.DefaultExpiration)
		c.Next()
	}
}
