package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ready(t *testing.T, checks map[string]Check) (int, map[string]interface{}) {
	t.Helper()
	r := gin.New()
	NewHandler(checks).RegisterRoutes(r.Group(""))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadinessAllUp(t *testing.T) {
	code, body := ready(t, map[string]Check{
		"redis":    func(context.Context) error { return nil },
		"database": func(context.Context) error { return nil },
	})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "UP", "database": "UP"}, body["components"])
}

func TestReadinessReportsDownComponent(t *testing.T) {
	code, body := ready(t, map[string]Check{
		"redis":    func(context.Context) error { return errors.New("connection refused") },
		"database": func(context.Context) error { return nil },
	})

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DOWN", body["status"])
	assert.Equal(t, map[string]interface{}{"redis": "DOWN", "database": "UP"}, body["components"])
}

func TestReadinessWithoutChecks(t *testing.T) {
	code, body := ready(t, nil)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", body["status"])
}
