package middleware

import (
	"errors"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/gate"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
)

const (
	ContextSession  = "session"
	ContextIdentity = "identity"
	ContextTokens   = "tokens"
	ContextUserID   = "user_id"

	LoginPath  = "/auth/login"
	LogoutPath = "/auth/logout"
)

type CookieConfig struct {
	Name   string
	Secure bool
}

// SessionAuth loads the browser session named by the session cookie and
// guards routes by role.
type SessionAuth struct {
	store     session.Store
	refresher session.Refresher
	cookie    CookieConfig
}

func NewSessionAuth(store session.Store, refresher session.Refresher, cookie CookieConfig) *SessionAuth {
	if cookie.Name == "" {
		cookie.Name = "portal_session"
	}
	return &SessionAuth{store: store, refresher: refresher, cookie: cookie}
}

// Load attaches the session, identity and token source to the context. A
// missing or expired session is not an error here; RequireRoles decides.
func (m *SessionAuth) Load() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(m.cookie.Name)
		if err != nil || id == "" {
			c.Next()
			return
		}

		sess, err := m.store.Get(c.Request.Context(), id)
		switch {
		case errors.Is(err, session.ErrNotFound):
			m.Clear(c)
		case err != nil:
			log.Error().Err(err).Str("request_id", c.GetString(ContextRequestID)).Msg("failed to load session")
		case sess.Expired(time.Now()):
			m.Clear(c)
		default:
			c.Set(ContextSession, sess)
			if sess.Status == session.StatusAuthenticated {
				c.Set(ContextIdentity, sess.Identity)
				c.Set(ContextUserID, sess.Identity.Subject)
				c.Set(ContextTokens, session.NewTokenSource(m.store, sess, m.refresher))
			}
		}
		c.Next()
	}
}

// RequireRoles lets the request through only when the session is
// authenticated and holds one of roles.
func (m *SessionAuth) RequireRoles(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var status session.Status
		var granted []string
		sess := CurrentSession(c)
		if sess != nil {
			status = sess.Status
			granted = sess.Identity.Roles
		}

		switch gate.Evaluate(status, granted, roles) {
		case gate.Allowed:
			c.Next()
		case gate.Denied:
			renderDenied(c)
		case gate.Error:
			renderIdentityError(c, sess.Error)
		default:
			renderLogin(c)
		}
	}
}

// Issue sets the session cookie.
func (m *SessionAuth) Issue(c *gin.Context, sess *session.Session) {
	maxAge := int(sess.TTL().Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookie.Name, sess.ID, maxAge, "/", "", m.cookie.Secure, true)
}

func (m *SessionAuth) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookie.Name, "", -1, "/", "", m.cookie.Secure, true)
}

func (m *SessionAuth) CookieName() string { return m.cookie.Name }

func CurrentSession(c *gin.Context) *session.Session {
	if v, ok := c.Get(ContextSession); ok {
		if sess, ok := v.(*session.Session); ok {
			return sess
		}
	}
	return nil
}

func CurrentIdentity(c *gin.Context) (model.Identity, bool) {
	if v, ok := c.Get(ContextIdentity); ok {
		id, ok := v.(model.Identity)
		return id, ok
	}
	return model.Identity{}, false
}

// CurrentTokens is nil for anonymous requests; backend calls made with it
// fail as not authenticated without touching the network.
func CurrentTokens(c *gin.Context) apiclient.TokenSource {
	if v, ok := c.Get(ContextTokens); ok {
		if ts, ok := v.(apiclient.TokenSource); ok {
			return ts
		}
	}
	return nil
}

// LoginURL points at the sign-in route, returning to the current request.
func LoginURL(c *gin.Context) string {
	return LoginPath + "?" + url.Values{"return_to": {c.Request.URL.RequestURI()}}.Encode()
}

// WantsHTML reports whether the request is a browser navigation.
func WantsHTML(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}

func renderLogin(c *gin.Context) {
	login := LoginURL(c)
	if WantsHTML(c) {
		c.Redirect(http.StatusFound, login)
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, &httputil.Response{
		Status:  "error",
		Message: "authentication required",
		Data:    gin.H{"login_url": login},
	})
}

const deniedPage = `<!doctype html><html><head><title>No permission</title></head>
<body><h2>No permission</h2><form method="post" action="` + LogoutPath + `"><button type="submit">Log out</button></form></body></html>`

func renderDenied(c *gin.Context) {
	if WantsHTML(c) {
		c.Data(http.StatusForbidden, "text/html; charset=utf-8", []byte(deniedPage))
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusForbidden, &httputil.Response{
		Status:  "error",
		Message: "no permission",
		Data:    gin.H{"logout_url": LogoutPath},
	})
}

func renderIdentityError(c *gin.Context, reason string) {
	if reason == "" {
		reason = "sign-in failed"
	}
	if WantsHTML(c) {
		page := `<!doctype html><html><head><title>Sign-in error</title></head><body><h2>Sign-in error</h2><p>` +
			html.EscapeString(reason) + `</p><a href="` + LoginPath + `">Sign in again</a></body></html>`
		c.Data(http.StatusUnauthorized, "text/html; charset=utf-8", []byte(page))
		c.Abort()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, &httputil.Response{
		Status:  "error",
		Message: reason,
		Data:    gin.H{"login_url": LoginPath},
	})
}
