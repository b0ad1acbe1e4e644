package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/audit"
)

type AuditMiddleware struct {
	recorder audit.Recorder
}

// NewAuditMiddleware returns a middleware that records nothing when recorder
// is nil.
func NewAuditMiddleware(recorder audit.Recorder) *AuditMiddleware {
	return &AuditMiddleware{recorder: recorder}
}

// AuditLog records who touched which entity once the handler has run. The
// entity id is read from the idParam route parameter.
func (m *AuditMiddleware) AuditLog(entityType, idParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Execute the handler
		c.Next()

		if m.recorder == nil {
			return
		}
		userID := c.GetString(ContextUserID)
		if userID == "" {
			return
		}

		m.recorder.Record(model.AuditLog{
			UserID:     userID,
			Action:     actionFor(c.Request.Method),
			EntityType: entityType,
			EntityID:   c.Param(idParam),
			Path:       c.Request.URL.Path,
			Status:     c.Writer.Status(),
			IPAddress:  c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			CreatedAt:  time.Now().UTC(),
		})
	}
}

func actionFor(method string) string {
	switch method {
	case http.MethodPost:
		return model.AuditActionCreate
	case http.MethodPut, http.MethodPatch:
		return model.AuditActionUpdate
	case http.MethodDelete:
		return model.AuditActionDelete
	default:
		return model.AuditActionRead
	}
}
