package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/model"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

type Lister interface {
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
}

type Handler struct {
	service Lister
	guard   handler.Guard
}

func NewHandler(service Lister, guard handler.Guard) *Handler {
	return &Handler{service: service, guard: guard}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	audit := r.Group("/audit", h.guard(model.Clinicians...))
	{
		audit.GET("/logs", h.ListLogs)
		audit.GET("/logs/entity/:type/:id", h.GetEntityLogs)
		audit.GET("/logs/user/:id", h.GetUserLogs)
	}
}

// ListLogs filters by the user_id, entity_type, entity_id, since (RFC 3339)
// and limit query parameters.
func (h *Handler) ListLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter.UserID = c.Query("user_id")
	filter.EntityType = c.Query("entity_type")
	filter.EntityID = c.Query("entity_id")
	h.list(c, filter)
}

func (h *Handler) GetEntityLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter.EntityType = c.Param("type")
	filter.EntityID = c.Param("id")
	h.list(c, filter)
}

func (h *Handler) GetUserLogs(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	filter.UserID = c.Param("id")
	h.list(c, filter)
}

func (h *Handler) list(c *gin.Context, filter model.AuditFilter) {
	logs, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if logs == nil {
		logs = []*model.AuditLog{}
	}
	httputil.RespondWithSuccess(c, http.StatusOK, logs)
}

func parseFilter(c *gin.Context) (model.AuditFilter, error) {
	var filter model.AuditFilter
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperrors.BadRequest("since must be an RFC 3339 timestamp", err)
		}
		filter.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, apperrors.BadRequest("limit must be a positive integer", err)
		}
		filter.Limit = limit
	}
	return filter, nil
}
