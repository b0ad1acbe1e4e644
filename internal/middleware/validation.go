package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	playground "github.com/go-playground/validator/v10"

	"github.com/jwalitptl/patient-portal/pkg/httputil"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

// Validation renders binding failures as 400 with one entry per field. It
// must run inside ErrorHandler.
func Validation() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		var fields []validator.FieldError
		for _, e := range c.Errors {
			var verrs playground.ValidationErrors
			if errors.As(e.Err, &verrs) {
				fields = append(fields, validator.Describe(verrs)...)
			}
		}
		if len(fields) == 0 {
			return
		}

		c.AbortWithStatusJSON(http.StatusBadRequest, &httputil.Response{
			Status:  "error",
			Message: "validation failed",
			Data:    gin.H{"errors": fields},
		})
	}
}
