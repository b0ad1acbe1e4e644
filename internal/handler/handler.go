// Package handler holds helpers shared by the view handlers under it.
package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/patient-portal/internal/model"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
)

// BindJSON decodes and validates the request body. Rule failures are left for
// the validation middleware; anything else is a bad request.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs playground.ValidationErrors
		if errors.As(err, &verrs) {
			_ = c.Error(err)
		} else {
			_ = c.Error(apperrors.BadRequest("invalid request body", err))
		}
		return false
	}
	return true
}

// BindQuery is BindJSON for query parameters.
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		var verrs playground.ValidationErrors
		if errors.As(err, &verrs) {
			_ = c.Error(err)
		} else {
			_ = c.Error(apperrors.BadRequest("invalid query parameters", err))
		}
		return false
	}
	return true
}

// ParamID reads a non-empty path identifier.
func ParamID(c *gin.Context, name string) (model.ID, bool) {
	id := model.ID(c.Param(name))
	if id.IsZero() {
		_ = c.Error(apperrors.BadRequest("missing "+name, nil))
		return "", false
	}
	return id, true
}

// Guard admits callers holding one of roles.
type Guard func(roles ...model.Role) gin.HandlerFunc
