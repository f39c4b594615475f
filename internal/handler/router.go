package handler

import (
	"github.com/GoPolymarket/ordergate/internal/config"
	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps are the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Config   *config.Config
	Gateway  *service.GatewayService
	Audit    *service.AuditService
	Limiter  *ratelimit.Limiter
	Registry *service.ActorRegistry
	// CacheBackend names the cache backend currently serving reads.
	CacheBackend func() string
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestContext())

	backend := d.CacheBackend
	if backend == nil {
		backend = func() string { return "memory" }
	}
	r.GET("/health", Health(backend, d.Gateway.Halted))

	if d.Config.Metrics.Enabled {
		r.GET(d.Config.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	orders := NewOrderHandler(d.Gateway)
	markets := NewMarketHandler(d.Gateway)
	account := NewAccountHandler(d.Gateway)
	admin := NewAdminHandler(d.Gateway)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.Config.Auth, d.Registry, d.Limiter, d.Audit))
	{
		v1.GET("/markets/:pair/ticker", markets.Ticker)
		v1.GET("/markets/:pair/book", markets.OrderBook)
		v1.GET("/markets/:pair/trades", markets.Trades)
		v1.GET("/markets/:pair/stats", markets.Stats)
		v1.GET("/markets/:pair/candles", markets.Candles)
		v1.GET("/ratelimit/:class", account.RateLimitStatus)
	}

	user := v1.Group("", middleware.RequireActor(d.Audit))
	{
		user.POST("/orders", orders.PlaceOrder)
		user.PUT("/orders/:id", orders.UpdateOrder)
		user.DELETE("/orders/:id", orders.CancelOrder)
		user.GET("/account/balances", account.Balances)
		user.GET("/account/orders", account.OpenOrders)
	}

	adm := v1.Group("/admin", middleware.RequireActor(d.Audit), middleware.AdminMiddleware(d.Audit))
	{
		adm.GET("/audit", admin.AuditLogs)
		adm.GET("/audit/users/:id/summary", admin.UserActivity)
		adm.POST("/halt", admin.Halt)
		adm.POST("/resume", admin.Resume)
	}
	return r
}
