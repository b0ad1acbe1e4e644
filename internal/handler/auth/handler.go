package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/audit"
	"github.com/jwalitptl/patient-portal/internal/service/identity"
	"github.com/jwalitptl/patient-portal/internal/service/onboarding"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/httputil"
	"github.com/jwalitptl/patient-portal/pkg/notify"
)

// Provider is the identity provider side of sign-in.
type Provider interface {
	AuthCodeURL(state, verifier string, register bool) string
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, model.Identity, error)
	LogoutURL(idToken string) string
}

type Onboarder interface {
	Onboard(ctx context.Context, creds apiclient.TokenSource, id model.Identity) (onboarding.Result, error)
}

// Channels opens and closes each user's notification channel.
type Channels interface {
	Ensure(ctx context.Context, userID string, tokens apiclient.TokenSource) (*notify.Channel, error)
	Get(userID string) (*notify.Channel, bool)
	Release(userID string)
}

type Config struct {
	// SessionLifetime bounds a signed-in session.
	SessionLifetime time.Duration
	// LoginTimeout bounds the round-trip to the identity provider.
	LoginTimeout time.Duration
}

type Handler struct {
	provider  Provider
	onboarder Onboarder
	channels  Channels
	store     session.Store
	sessions  *middleware.SessionAuth
	refresher session.Refresher
	recorder  audit.Recorder
	cfg       Config
}

func NewHandler(
	provider Provider,
	onboarder Onboarder,
	channels Channels,
	store session.Store,
	sessions *middleware.SessionAuth,
	refresher session.Refresher,
	recorder audit.Recorder,
	cfg Config,
) *Handler {
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = 8 * time.Hour
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 10 * time.Minute
	}
	return &Handler{
		provider:  provider,
		onboarder: onboarder,
		channels:  channels,
		store:     store,
		sessions:  sessions,
		refresher: refresher,
		recorder:  recorder,
		cfg:       cfg,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.Login)
		auth.GET("/register", h.Register)
		auth.GET("/callback", h.Callback)
		auth.GET("/logout", h.Logout)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", h.Me)
	}
}

func (h *Handler) Login(c *gin.Context) {
	h.start(c, false)
}

// Register sends the browser to the realm's sign-up form.
func (h *Handler) Register(c *gin.Context) {
	h.start(c, true)
}

func (h *Handler) start(c *gin.Context, register bool) {
	sess := session.New(h.cfg.LoginTimeout)
	sess.State = uuid.NewString()
	sess.Verifier = identity.NewVerifier()
	sess.ReturnTo = localPath(c.Query("return_to"))

	if err := h.store.Save(c.Request.Context(), sess); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	h.sessions.Issue(c, sess)
	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(sess.State, sess.Verifier, register))
}

// Callback completes the authorization-code flow, onboards the user and
// opens their notification channel.
func (h *Handler) Callback(c *gin.Context) {
	ctx := c.Request.Context()
	pending := middleware.CurrentSession(c)
	if pending == nil || pending.Status != session.StatusPending {
		c.Redirect(http.StatusFound, middleware.LoginPath)
		return
	}
	if c.Query("state") != pending.State {
		_ = c.Error(apperrors.BadRequest("sign-in state mismatch", nil))
		return
	}

	if reason := c.Query("error"); reason != "" {
		if desc := c.Query("error_description"); desc != "" {
			reason = desc
		}
		h.fail(c, pending, reason)
		return
	}

	tok, id, err := h.provider.Exchange(ctx, c.Query("code"), pending.Verifier)
	if err != nil {
		log.Warn().Err(err).Str("request_id", c.GetString(middleware.ContextRequestID)).Msg("sign-in failed")
		h.fail(c, pending, "sign-in failed")
		return
	}

	// A fresh id replaces the pre-login one.
	sess := session.New(h.cfg.SessionLifetime)
	sess.Status = session.StatusAuthenticated
	sess.Identity = id
	sess.Token = tok
	sess.IDToken = identity.IDToken(tok)
	sess.ReturnTo = pending.ReturnTo
	if err := h.store.Save(ctx, sess); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	if err := h.store.Delete(ctx, pending.ID); err != nil {
		log.Warn().Err(err).Msg("failed to delete pre-login session")
	}
	h.sessions.Issue(c, sess)

	creds := session.NewTokenSource(h.store, sess, h.refresher)
	if _, err := h.onboarder.Onboard(ctx, creds, id); err != nil {
		if errors.Is(err, onboarding.ErrUnverified) {
			h.fail(c, sess, err.Error())
			return
		}
		_ = c.Error(apperrors.Internal(err))
		return
	}
	sess.Onboarded = true
	if err := h.store.Save(ctx, sess); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}

	if _, err := h.channels.Ensure(ctx, id.Subject, creds); err != nil {
		// The notification routes open it again on demand.
		log.Warn().Err(err).Str("user_id", id.Subject).Msg("notification channel unavailable")
	}
	h.record(c, id.Subject, model.AuditActionLogin, sess.ID)

	target := sess.ReturnTo
	if target == "" {
		target = model.HomePath(id.Roles)
	}
	c.Redirect(http.StatusFound, target)
}

// fail moves sess into the error state the gate renders.
func (h *Handler) fail(c *gin.Context, sess *session.Session, reason string) {
	sess.Status = session.StatusError
	sess.Error = reason
	sess.State, sess.Verifier = "", ""
	if err := h.store.Save(c.Request.Context(), sess); err != nil {
		_ = c.Error(apperrors.Internal(err))
		return
	}
	h.sessions.Issue(c, sess)

	target := sess.ReturnTo
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}

// Logout closes the notification channel, forgets the session and ends the
// identity provider session.
func (h *Handler) Logout(c *gin.Context) {
	target := "/"
	if sess := middleware.CurrentSession(c); sess != nil {
		if sess.Status == session.StatusAuthenticated {
			h.channels.Release(sess.Identity.Subject)
			h.record(c, sess.Identity.Subject, model.AuditActionLogout, sess.ID)
			target = h.provider.LogoutURL(sess.IDToken)
		}
		if err := h.store.Delete(c.Request.Context(), sess.ID); err != nil {
			log.Warn().Err(err).Msg("failed to delete session")
		}
	}
	h.sessions.Clear(c)

	status := http.StatusFound
	if c.Request.Method == http.MethodPost {
		status = http.StatusSeeOther
	}
	c.Redirect(status, target)
}

// Me describes the signed-in user, where they belong and whether they have
// unseen messages.
func (h *Handler) Me(c *gin.Context) {
	sess := middleware.CurrentSession(c)
	if sess == nil || !sess.Authenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, &httputil.Response{
			Status:  "error",
			Message: "authentication required",
			Data:    gin.H{"login_url": middleware.LoginPath},
		})
		return
	}

	me := model.Me{Identity: sess.Identity, Home: model.HomePath(sess.Identity.Roles)}
	if ch, ok := h.channels.Get(sess.Identity.Subject); ok {
		me.HasNewMessages = ch.HasUnseen()
	}
	httputil.RespondWithSuccess(c, http.StatusOK, me)
}

func (h *Handler) record(c *gin.Context, userID, action, sessionID string) {
	if h.recorder == nil {
		return
	}
	h.recorder.Record(model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityType: model.AuditEntitySession,
		EntityID:   sessionID,
		Path:       c.Request.URL.Path,
		Status:     http.StatusFound,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
		CreatedAt:  time.Now().UTC(),
	})
}

// localPath keeps post-login redirects on this site.
func localPath(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return ""
	}
	return p
}
