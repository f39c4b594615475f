package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// respond writes the admission headers and either the payload or the error,
// which ErrorHandler renders.
func respond(c *gin.Context, status int, payload interface{}, d ratelimit.Decision, err error) {
	middleware.SetRateLimitHeaders(c, d)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(status, payload)
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// Health reports liveness and the cache backend in use.
func Health(backend func() string, halted func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "ordergate",
			"cache":   backend(),
			"halted":  halted(),
		})
	}
}
