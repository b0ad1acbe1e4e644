package user

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

// Registrar creates patient accounts without a signed-in caller.
type Registrar interface {
	RegisterPatient(ctx context.Context, req model.RegisterPatientRequest) error
}

type Handler struct {
	registrar Registrar
}

func NewHandler(registrar Registrar) *Handler {
	return &Handler{registrar: registrar}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.Register)
}

// Register is the legacy self-service sign-up form. New accounts normally
// come from the identity provider's registration page.
func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterPatientRequest
	if !handler.BindJSON(c, &req) {
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)

	if err := h.registrar.RegisterPatient(c.Request.Context(), req); err != nil {
		_ = c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, gin.H{"email": req.Email})
}
