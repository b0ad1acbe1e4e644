package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Handler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHandler builds readiness from named checks; with none the service is
// always ready.
func NewHandler(checks map[string]Check) *Handler {
	return &Handler{
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(gin.H, len(names))
	down := false
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			components[name] = "DOWN"
			down = true
			continue
		}
		components[name] = "UP"
	}

	if down {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":     "DOWN",
			"components": components,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP", "components": components})
}
