package handler

import (
	"net/http"

	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketHandler serves cached market reads. Pairs are addressed as
// BASE-QUOTE in paths.
type MarketHandler struct {
	svc *service.GatewayService
}

func NewMarketHandler(svc *service.GatewayService) *MarketHandler {
	return &MarketHandler{svc: svc}
}

func (h *MarketHandler) Ticker(c *gin.Context) {
	v, d, err := h.svc.Ticker(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("pair"))
	respond(c, http.StatusOK, v, d, err)
}

func (h *MarketHandler) OrderBook(c *gin.Context) {
	v, d, err := h.svc.OrderBook(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("pair"))
	respond(c, http.StatusOK, v, d, err)
}

func (h *MarketHandler) Trades(c *gin.Context) {
	v, d, err := h.svc.RecentTrades(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("pair"))
	respond(c, http.StatusOK, v, d, err)
}

func (h *MarketHandler) Stats(c *gin.Context) {
	v, d, err := h.svc.Stats(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("pair"))
	respond(c, http.StatusOK, v, d, err)
}

func (h *MarketHandler) Candles(c *gin.Context) {
	interval := c.DefaultQuery("interval", "1m")
	v, d, err := h.svc.Candles(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("pair"), interval)
	respond(c, http.StatusOK, v, d, err)
}
