package handler

import (
	"net/http"

	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

type AccountHandler struct {
	svc *service.GatewayService
}

func NewAccountHandler(svc *service.GatewayService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) Balances(c *gin.Context) {
	v, d, err := h.svc.Balances(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c))
	respond(c, http.StatusOK, v, d, err)
}

func (h *AccountHandler) OpenOrders(c *gin.Context) {
	v, d, err := h.svc.OpenOrders(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c))
	respond(c, http.StatusOK, v, d, err)
}

// RateLimitStatus reports the caller's remaining quota for a class without
// consuming it.
func (h *AccountHandler) RateLimitStatus(c *gin.Context) {
	d, err := h.svc.RateLimitStatus(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("class"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, d)
}
