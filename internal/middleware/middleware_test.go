package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := validator.Register(); err != nil {
		panic(err)
	}
}

type fixture struct {
	store *session.MemoryStore
	auth  *SessionAuth
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := session.NewCodec("test-secret")
	require.NoError(t, err)
	store := session.NewMemoryStore(codec, time.Minute, metrics.NewNop())
	return &fixture{
		store: store,
		auth:  NewSessionAuth(store, nil, CookieConfig{Name: "portal_session"}),
	}
}

func (f *fixture) login(t *testing.T, status session.Status, roles ...string) *http.Cookie {
	t.Helper()
	sess := session.New(time.Hour)
	sess.Status = status
	if status == session.StatusAuthenticated {
		sess.Identity = model.Identity{Subject: "u1", Email: "u1@x.se", Roles: roles}
		sess.Token = &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
	}
	if status == session.StatusError {
		sess.Error = "account disabled"
	}
	require.NoError(t, f.store.Save(context.Background(), sess))
	return &http.Cookie{Name: "portal_session", Value: sess.ID}
}

func (f *fixture) router(t *testing.T, roles ...model.Role) *gin.Engine {
	r := gin.New()
	r.Use(f.auth.Load())
	r.GET("/doctor/patients", f.auth.RequireRoles(roles...), func(c *gin.Context) {
		id, _ := CurrentIdentity(c)
		token, err := CurrentTokens(c).AccessToken(c.Request.Context())
		require.NoError(t, err)
		c.JSON(http.StatusOK, gin.H{"user": id.Subject, "token": token})
	})
	return r
}

func do(r http.Handler, accept string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/doctor/patients?page=2", nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestUnauthenticatedBrowserIsRedirected(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "text/html,application/xhtml+xml", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, LoginPath, loc.Path)
	assert.Equal(t, "/doctor/patients?page=2", loc.Query().Get("return_to"))
	assert.NotContains(t, w.Body.String(), "token")
}

func TestUnauthenticatedAPICallGets401(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "application/json", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.True(t, strings.HasPrefix(body.Data["login_url"], LoginPath+"?return_to="))
}

func TestUnknownSessionCookieIsCleared(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "", &http.Cookie{Name: "portal_session", Value: "stale"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "portal_session=;")
}

func TestPendingSessionRestartsLogin(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "text/html", f.login(t, session.StatusPending))
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestRoleIntersectionAllows(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "", f.login(t, session.StatusAuthenticated, "offline_access", "OtherStaff"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1","token":"tok"}`, w.Body.String())
}

func TestMissingRoleIsDenied(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)
	cookie := f.login(t, session.StatusAuthenticated, "Patient")

	w := do(r, "", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), LogoutPath)

	w = do(r, "text/html", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "No permission")
	assert.Contains(t, w.Body.String(), `action="`+LogoutPath+`"`)
}

func TestIdentityErrorIsShown(t *testing.T) {
	f := newFixture(t)
	r := f.router(t, model.Clinicians...)

	w := do(r, "text/html", f.login(t, session.StatusError))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "account disabled")
}

func TestCurrentTokensAnonymous(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, CurrentTokens(c))

	// Backend calls with no credential fail before reaching the network.
	_, err := apiclient.New().Do(context.Background(), CurrentTokens(c), "http://127.0.0.1:1/never", apiclient.Options{})
	assert.ErrorIs(t, err, apiclient.ErrNotAuthenticated)
}

func TestErrorAndValidationRendering(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(), Validation())
	r.POST("/conditions", func(c *gin.Context) {
		var req model.ConditionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(err)
			return
		}
		c.Status(http.StatusCreated)
	})
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.Upstream("records", http.StatusNotFound, nil))
	})

	body := `{"conditionName":" ","conditionType":"Flu","severityLevel":11,"diagnosedDate":"01/01/2024"}`
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/conditions", strings.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Data struct {
			Errors []validator.FieldError `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	fields := map[string]bool{}
	for _, fe := range resp.Data.Errors {
		fields[fe.Field] = true
	}
	assert.Equal(t, map[string]bool{"conditionName": true, "conditionType": true, "severityLevel": true, "diagnosedDate": true}, fields)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimiterIsPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.0001, Burst: 2})
	r := gin.New()
	r.Use(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(DefaultCORSConfig([]string{"https://portal.example"})))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://portal.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://portal.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SizeLimit(SizeLimitConfig{MaxBodySize: 8, MaxUploadSize: 64}))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"too long"}`))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []model.AuditLog
}

func (m *memRecorder) Record(e model.AuditLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

func TestAuditLogRecordsAuthenticatedAccess(t *testing.T) {
	rec := &memRecorder{}
	audit := NewAuditMiddleware(rec)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-User") != "" {
			c.Set(ContextUserID, c.GetHeader("X-Test-User"))
		}
	})
	r.DELETE("/api/conditions/:recordId", audit.AuditLog(model.AuditEntityCondition, "recordId"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/conditions/42", nil)
	req.Header.Set("X-Test-User", "doc-1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/conditions/43", nil))

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, "doc-1", e.UserID)
	assert.Equal(t, model.AuditActionDelete, e.Action)
	assert.Equal(t, model.AuditEntityCondition, e.EntityType)
	assert.Equal(t, "42", e.EntityID)
	assert.Equal(t, http.StatusNoContent, e.Status)
}

func TestSecurityAndCacheHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultSecurityConfig()), Cache(NoStoreCacheConfig()), RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "private, no-store", w.Header().Get("Cache-Control"))
	assert.NotEmpty(t, w.Header().Get(HeaderXRequestID))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}
