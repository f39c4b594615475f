package middleware

import (
	"bytes"
	"io"

	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID    = "X-Request-ID"
	ContextRequestMeta = "request_meta"

	// maxAuditBody caps how much of a request body is kept for audit entries.
	maxAuditBody = 64 << 10
)

// replayBody serves the captured prefix ahead of the unread remainder.
type replayBody struct {
	io.Reader
	io.Closer
}

// RequestContext assigns a request id and captures the transport details
// that gateway audit entries carry. The body is restored for binding.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.New().String()
		}
		c.Header(HeaderRequestID, reqID)

		var body []byte
		if c.Request.Body != nil {
			original := c.Request.Body
			body, _ = io.ReadAll(io.LimitReader(original, maxAuditBody+1))
			c.Request.Body = replayBody{
				Reader: io.MultiReader(bytes.NewReader(body), original),
				Closer: original,
			}
		}
		if len(body) > maxAuditBody {
			body = nil
		}

		c.Set(ContextRequestMeta, model.RequestMeta{
			RequestID: reqID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			Path:      c.Request.Method + " " + c.Request.URL.Path,
			Body:      body,
		})
		c.Next()
	}
}

// RequestMeta returns the captured request details, or a minimal set when
// RequestContext did not run.
func RequestMeta(c *gin.Context) model.RequestMeta {
	if v, ok := c.Get(ContextRequestMeta); ok {
		if meta, ok := v.(model.RequestMeta); ok {
			return meta
		}
	}
	return model.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Path:      c.Request.Method + " " + c.Request.URL.Path,
	}
}
