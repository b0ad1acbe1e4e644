package search

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

// Searcher is the read side of the search service.
type Searcher interface {
	PatientsByName(ctx context.Context, creds apiclient.TokenSource, name string) ([]model.PatientSummary, error)
	PatientsByCondition(ctx context.Context, creds apiclient.TokenSource, condition string) ([]model.PatientSummary, error)
	PatientsByPractitioner(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.PatientSummary, error)
	PatientsByPractitionerOnDate(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID, date string) ([]model.PatientSummary, error)
	PatientByEmail(ctx context.Context, creds apiclient.TokenSource, email string, eager bool) (*model.Patient, error)
	PractitionerByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.Practitioner, error)
	PractitionerByID(ctx context.Context, creds apiclient.TokenSource, id model.ID) (*model.Practitioner, error)
}

// PatientFinder is the user-management service's paged name lookup.
type PatientFinder interface {
	SearchPatients(ctx context.Context, creds apiclient.TokenSource, query string, pageIndex, pageSize int) ([]model.PatientSummary, error)
}

const defaultPageSize = 10

type pageQuery struct {
	Q         string `form:"q" json:"q" binding:"required,notblank"`
	PageIndex int    `form:"pageIndex" json:"pageIndex" binding:"min=0"`
	PageSize  int    `form:"pageSize" json:"pageSize" binding:"omitempty,min=1,max=100"`
}

type Handler struct {
	search   Searcher
	patients PatientFinder
	guard    handler.Guard
	handler.BaseHandler
}

func NewHandler(search Searcher, patients PatientFinder, guard handler.Guard) *Handler {
	return &Handler{search: search, patients: patients, guard: guard}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	search := r.Group("/search", h.guard(model.Clinicians...))
	{
		search.GET("/patients", h.Find)
		search.GET("/patients/name/:name", h.ByName)
		search.GET("/patients/condition/:condition", h.ByCondition)
		search.GET("/patients/mine", h.Mine)
		search.GET("/patient/email/:email", h.ByEmail)
		search.GET("/practitioner/email/:email", h.PractitionerByEmail)
		search.GET("/practitioner/email/:email/patients", h.PatientsOfPractitioner)
		search.GET("/practitioner/id/:id", h.PractitionerByID)
	}
}

// Find is the incremental name search behind the patient list, one page at
// a time.
func (h *Handler) Find(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	var q pageQuery
	if !handler.BindQuery(c, &q) {
		return
	}
	if q.PageSize == 0 {
		q.PageSize = defaultPageSize
	}
	h.respond(c)(h.patients.SearchPatients(c.Request.Context(), creds, strings.TrimSpace(q.Q), q.PageIndex, q.PageSize))
}

func (h *Handler) ByName(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	name, ok := term(c, "name")
	if !ok {
		return
	}
	h.respond(c)(h.search.PatientsByName(c.Request.Context(), creds, name))
}

func (h *Handler) ByCondition(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	condition, ok := term(c, "condition")
	if !ok {
		return
	}
	h.respond(c)(h.search.PatientsByCondition(c.Request.Context(), creds, condition))
}

// Mine lists the caller's own patients, optionally only those seen on the
// date query parameter.
func (h *Handler) Mine(c *gin.Context) {
	me, creds, ok := h.Actor(c)
	if !ok {
		return
	}

	date := c.Query("date")
	if date == "" {
		h.respond(c)(h.search.PatientsByPractitioner(c.Request.Context(), creds, me.UserID()))
		return
	}
	if _, err := validator.ParseDate(date); err != nil {
		_ = c.Error(apperrors.BadRequest("date must be in YYYY-MM-DD form", err))
		return
	}
	h.respond(c)(h.search.PatientsByPractitionerOnDate(c.Request.Context(), creds, me.UserID(), date))
}

func (h *Handler) ByEmail(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	email, ok := term(c, "email")
	if !ok {
		return
	}

	p, err := h.search.PatientByEmail(c.Request.Context(), creds, email, c.Query("eager") == "true")
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

func (h *Handler) PractitionerByEmail(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	email, ok := term(c, "email")
	if !ok {
		return
	}

	p, err := h.search.PractitionerByEmail(c.Request.Context(), creds, email)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

func (h *Handler) PractitionerByID(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	id, ok := handler.ParamID(c, "id")
	if !ok {
		return
	}

	p, err := h.search.PractitionerByID(c.Request.Context(), creds, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, p)
}

// PatientsOfPractitioner resolves a practitioner by email and lists the
// patients they treat.
func (h *Handler) PatientsOfPractitioner(c *gin.Context) {
	_, creds, ok := h.Actor(c)
	if !ok {
		return
	}
	email, ok := term(c, "email")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	p, err := h.search.PractitionerByEmail(ctx, creds, email)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if p.ID.IsZero() {
		_ = c.Error(apperrors.NotFound("practitioner", nil))
		return
	}
	h.respond(c)(h.search.PatientsByPractitioner(ctx, creds, p.ID))
}

func (h *Handler) respond(c *gin.Context) func([]model.PatientSummary, error) {
	return func(patients []model.PatientSummary, err error) {
		if err != nil {
			_ = c.Error(err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, patients)
	}
}

func term(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Param(name))
	if v == "" {
		_ = c.Error(apperrors.BadRequest(name+" is required", nil))
		return "", false
	}
	return v, true
}
