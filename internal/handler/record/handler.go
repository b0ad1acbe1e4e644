package record

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/records"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

// Handler serves a single clinical record by id for each record kind.
type Handler struct {
	service *records.Service
	guard   handler.Guard
	audit   *middleware.AuditMiddleware
	handler.BaseHandler
}

func NewHandler(service *records.Service, guard handler.Guard, audit *middleware.AuditMiddleware) *Handler {
	return &Handler{service: service, guard: guard, audit: audit}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	for _, kind := range model.RecordKinds {
		g := r.Group("/"+string(kind)+"/:recordId",
			h.guard(model.Clinicians...),
			h.audit.AuditLog(kind.Singular(), "recordId"),
		)
		g.GET("", h.get(kind))
		g.PUT("", h.guard(model.RoleDoctor), h.update(kind))
		g.DELETE("", h.guard(model.RoleDoctor), h.delete(kind))
	}
}

func (h *Handler) get(kind model.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, creds, ok := h.Actor(c)
		if !ok {
			return
		}
		id, ok := handler.ParamID(c, "recordId")
		if !ok {
			return
		}

		rec, err := h.service.Get(c.Request.Context(), creds, kind, id)
		if err != nil {
			_ = c.Error(err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, rec)
	}
}

// update binds the kind's patch so only submitted fields change.
func (h *Handler) update(kind model.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		me, creds, ok := h.Actor(c)
		if !ok {
			return
		}
		id, ok := handler.ParamID(c, "recordId")
		if !ok {
			return
		}

		var (
			res *model.MutationResult
			err error
		)
		ctx := c.Request.Context()
		switch kind {
		case model.KindCondition:
			var patch model.ConditionPatch
			if !handler.BindJSON(c, &patch) {
				return
			}
			res, err = h.service.UpdateCondition(ctx, creds, me, id, patch)
		case model.KindEncounter:
			var patch model.EncounterPatch
			if !handler.BindJSON(c, &patch) {
				return
			}
			res, err = h.service.UpdateEncounter(ctx, creds, me, id, patch)
		default:
			var patch model.ObservationPatch
			if !handler.BindJSON(c, &patch) {
				return
			}
			res, err = h.service.UpdateObservation(ctx, creds, me, id, patch)
		}
		if err != nil {
			_ = c.Error(err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, res)
	}
}

func (h *Handler) delete(kind model.RecordKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, creds, ok := h.Actor(c)
		if !ok {
			return
		}
		id, ok := handler.ParamID(c, "recordId")
		if !ok {
			return
		}

		if err := h.service.Delete(c.Request.Context(), creds, kind, id); err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
