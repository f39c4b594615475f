package handler

import (
	"net/http"

	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/ratelimit"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	svc *service.GatewayService
}

func NewOrderHandler(svc *service.GatewayService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func (h *OrderHandler) PlaceOrder(c *gin.Context) {
	ctx, actor, meta := c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c)

	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		d, err := h.svc.RejectMalformed(ctx, actor, meta, "place_order", ratelimit.ClassOrder, err)
		respond(c, http.StatusUnprocessableEntity, nil, d, err)
		return
	}

	order, d, err := h.svc.PlaceOrder(ctx, actor, meta, req)
	respond(c, http.StatusCreated, order, d, err)
}

func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	ctx, actor, meta := c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c)

	var req model.OrderUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		d, err := h.svc.RejectMalformed(ctx, actor, meta, "update_order", ratelimit.ClassTrading, err)
		respond(c, http.StatusUnprocessableEntity, nil, d, err)
		return
	}

	order, d, err := h.svc.UpdateOrder(ctx, actor, meta, c.Param("id"), req)
	respond(c, http.StatusOK, order, d, err)
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, d, err := h.svc.CancelOrder(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("id"))
	respond(c, http.StatusOK, order, d, err)
}
