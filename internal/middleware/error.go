package middleware

import (
	"time"

	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

// defaultRetryAfter is advertised for retryable failures that carry no reset time.
const defaultRetryAfter = "1"

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only handle if there are errors
		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.Wrap(c.Errors.Last().Err)

		logFields := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"code", appErr.Type,
			"client_ip", c.ClientIP(),
			"request_id", c.Writer.Header().Get(HeaderRequestID),
			"retryable", apperrors.IsRetryable(appErr.Type),
		}

		if appErr.HTTPStatus >= 500 {
			logger.LogError(c.Request.Context(), appErr, "request failed", logFields...)
		} else {
			logger.Warn(appErr.Message, logFields...)
		}

		if c.Writer.Header().Get(HeaderRetryAfter) == "" {
			switch {
			case appErr.RetryAt != nil:
				c.Header(HeaderRetryAfter, retryAfter(*appErr.RetryAt, time.Now()))
			case apperrors.IsRetryable(appErr.Type):
				c.Header(HeaderRetryAfter, defaultRetryAfter)
			}
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(appErr.HTTPStatus, appErr)
	}
}
