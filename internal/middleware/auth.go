package middleware

import (
	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	HeaderGatewayKey = "X-Gateway-Key"
	ContextActorKey  = "actor"
)

// AuthMiddleware resolves the gateway key to an actor. Failed lookups are
// audited and throttled per client IP under the auth class.
func AuthMiddleware(cfg config.AuthConfig, registry *service.ActorRegistry, limiter *ratelimit.Limiter, audit *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderGatewayKey)
		if apiKey == "" && !cfg.RequireAPIKey {
			c.Next()
			return
		}

		actor, ok := registry.Lookup(c.Request.Context(), apiKey)
		if ok {
			c.Set(ContextActorKey, actor)
			c.Next()
			return
		}

		meta := RequestMeta(c)
		ctx := c.Request.Context()
		reason := "invalid API key"
		if apiKey == "" {
			reason = "missing API key"
		}

		d, err := limiter.CheckClass(ctx, ratelimit.ClassAuth, "ip:"+meta.IP)
		SetRateLimitHeaders(c, d)
		switch {
		case err != nil:
			audit.LogRejection(ctx, "", "authenticate", string(service.StageReceived), err, meta, nil)
			abortWithError(c, err)
			return
		case !d.Allowed:
			limited := apperrors.NewRateLimited(d.ResetAt)
			audit.LogRejection(ctx, "", "authenticate", string(service.StageReceived), limited, meta, nil)
			abortWithError(c, limited)
			return
		}

		audit.LogAuth(ctx, "", false, meta, map[string]interface{}{"reason": reason})
		abortWithError(c, apperrors.New(apperrors.ErrUnauthorized, reason, nil))
	}
}

// Actor returns the authenticated actor, nil for anonymous requests.
func Actor(c *gin.Context) *model.Actor {
	if v, ok := c.Get(ContextActorKey); ok {
		if a, ok := v.(*model.Actor); ok {
			return a
		}
	}
	return nil
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// RequireActor rejects anonymous requests on routes that act for a user.
func RequireActor(audit *service.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if Actor(c) != nil {
			c.Next()
			return
		}
		audit.LogAuth(c.Request.Context(), "", false, RequestMeta(c), map[string]interface{}{"reason": "authentication required"})
		abortWithError(c, apperrors.New(apperrors.ErrUnauthorized, "authentication required", nil))
	}
}
