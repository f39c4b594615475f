package handler

import (
	"net/http"
	"time"

	"github.com/GoPolymarket/ordergate/internal/middleware"
	"github.com/GoPolymarket/ordergate/internal/model"
	"github.com/GoPolymarket/ordergate/internal/pkg/apperrors"
	"github.com/GoPolymarket/ordergate/internal/service"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	svc *service.GatewayService
}

func NewAdminHandler(svc *service.GatewayService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) AuditLogs(c *gin.Context) {
	filter := model.AuditFilter{
		ActorID: c.Query("actor"),
		Event:   c.Query("event"),
		Level:   model.AuditLevel(c.Query("level")),
	}
	var err error
	if filter.From, err = optionalTime(c, "from"); err != nil {
		_ = c.Error(err)
		return
	}
	if filter.To, err = optionalTime(c, "to"); err != nil {
		_ = c.Error(err)
		return
	}
	var page model.Pagination
	if page.Limit, err = queryInt(c, "limit", 100); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}
	if page.Offset, err = queryInt(c, "offset", 0); err != nil {
		_ = c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	result, d, err := h.svc.AuditLogs(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), filter, page)
	respond(c, http.StatusOK, result, d, err)
}

func (h *AdminHandler) UserActivity(c *gin.Context) {
	from, err := optionalTime(c, "from")
	if err != nil {
		_ = c.Error(err)
		return
	}
	to, err := optionalTime(c, "to")
	if err != nil {
		_ = c.Error(err)
		return
	}
	var fromT, toT time.Time
	if from != nil {
		fromT = *from
	}
	if to != nil {
		toT = *to
	}

	summary, d, err := h.svc.UserActivity(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c), c.Param("id"), fromT, toT)
	respond(c, http.StatusOK, summary, d, err)
}

func (h *AdminHandler) Halt(c *gin.Context) {
	d, err := h.svc.Halt(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c))
	respond(c, http.StatusOK, gin.H{"halted": true}, d, err)
}

func (h *AdminHandler) Resume(c *gin.Context) {
	d, err := h.svc.Resume(c.Request.Context(), middleware.Actor(c), middleware.RequestMeta(c))
	respond(c, http.StatusOK, gin.H{"halted": false}, d, err)
}

func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := parseTime(raw)
	if err != nil {
		return nil, apperrors.NewInvalidRequest(key + ": " + err.Error())
	}
	return &t, nil
}
