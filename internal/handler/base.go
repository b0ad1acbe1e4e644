package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
)

// BaseHandler gives view handlers the signed-in user and the credential their
// backend calls carry.
type BaseHandler struct{}

// Actor returns the caller. When the route is not behind the gate it records
// an unauthorized error and reports false.
func (BaseHandler) Actor(c *gin.Context) (model.Identity, apiclient.TokenSource, bool) {
	id, ok := middleware.CurrentIdentity(c)
	creds := middleware.CurrentTokens(c)
	if !ok || creds == nil {
		_ = c.Error(apperrors.Unauthorized(apiclient.ErrNotAuthenticated))
		return model.Identity{}, nil, false
	}
	return id, creds, true
}
