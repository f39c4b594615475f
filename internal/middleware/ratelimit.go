package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// SetRateLimitHeaders exposes an admission decision to the client. Decisions
// without a limit (the request never reached the limiter) are skipped.
func SetRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		c.Header(HeaderRetryAfter, retryAfter(d.ResetAt, time.Now()))
	}
}

// retryAfter renders whole seconds until reset, at least one.
func retryAfter(reset, now time.Time) string {
	secs := int64(math.Ceil(reset.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
