package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/records"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

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
	r.GET("/patient/me", h.guard(model.RolePatient), h.Own)

	doctor := r.Group("/doctor/patients", h.guard(model.Clinicians...))
	{
		doctor.GET("", h.ListTreated)

		chart := doctor.Group("/:id", h.audit.AuditLog(model.AuditEntityPatient, "id"))
		chart.GET("", h.Chart)
		chart.POST("/conditions", h.guard(model.RoleDoctor), h.CreateCondition)
		chart.POST("/encounters", h.guard(model.RoleDoctor), h.CreateEncounter)
		chart.POST("/observations", h.guard(model.RoleDoctor), h.CreateObservation)
	}
}

// Own is the signed-in patient's own chart.
func (h *Handler) Own(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	p, err := h.service.Own(c.Request.Context(), creds, me)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

// ListTreated lists every patient the practitioner holds a record for, by
// name.
func (h *Handler) ListTreated(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	patients, err := h.service.TreatedPatients(c.Request.Context(), creds, me.UserID())
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, patients)
}

func (h *Handler) Chart(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	p, err := h.service.Chart(c.Request.Context(), creds, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

func (h *Handler) CreateCondition(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.ConditionRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	res, err := h.service.CreateCondition(c.Request.Context(), creds, me, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res)
}

func (h *Handler) CreateEncounter(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.EncounterRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	res, err := h.service.CreateEncounter(c.Request.Context(), creds, me, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res)
}

func (h *Handler) CreateObservation(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}
	var req model.ObservationRequest
	if !handler.BindJSON(c, &req) {
		return
	}

	res, err := h.service.CreateObservation(c.Request.Context(), creds, me, id, req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, res)
}
