package middleware

import (
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

// AdminMiddleware admits only actors with the admin role. Denials are
// recorded as security events.
func AdminMiddleware(audit *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := Actor(c)
		if actor.IsAdmin() {
			c.Next()
			return
		}
		actorID := ""
		if actor != nil {
			actorID = actor.ID
		}
		audit.LogSecurity(c.Request.Context(), actorID, service.EventAccessDenied, "admin role required", RequestMeta(c), nil)
		abortWithError(c, apperrors.New(apperrors.ErrForbidden, "admin role required", nil))
	}
}
