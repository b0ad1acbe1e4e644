package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	playground "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

// ErrorHandler renders the last error a handler attached with c.Error, unless
// a response was already written.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		for _, e := range c.Errors {
			var verrs playground.ValidationErrors
			if errors.As(e.Err, &verrs) {
				continue
			}
			log.Debug().
				Err(e.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		httputil.RespondWithError(c, c.Errors.Last().Err)
	}
}
