package router

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/patient-portal/internal/handler/notification"
	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

const apiPrefix = "/api"

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// Handlers are mounted by Setup. Audit is optional.
type Handlers struct {
	Auth         Handler
	Register     Handler
	Patient      Handler
	Record       Handler
	Search       Handler
	Message      Handler
	Image        Handler
	Notification Handler
	Audit        Handler
	Health       Handler
	Metrics      gin.HandlerFunc
}

type RouterConfig struct {
	Mode           string
	RequestTimeout time.Duration
	RateLimit      *middleware.RateLimiterConfig
	CORSConfig     middleware.CORSConfig
	SizeLimit      middleware.SizeLimitConfig
}

type Router struct {
	engine   *gin.Engine
	sessions *middleware.SessionAuth
	handlers Handlers
}

func NewRouter(sessions *middleware.SessionAuth, m *metrics.Metrics, handlers Handlers, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}
	engine := gin.New()

	r := &Router{
		engine:   engine,
		sessions: sessions,
		handlers: handlers,
	}

	// Add core middlewares
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(m),
		middleware.SecurityHeaders(middleware.DefaultSecurityConfig()),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimit != nil {
		engine.Use(middleware.NewRateLimiter(*config.RateLimit).RateLimit())
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = middleware.DefaultTimeoutConfig().Duration
	}
	engine.Use(
		middleware.SizeLimit(config.SizeLimit),
		middleware.Timeout(middleware.TimeoutConfig{
			Duration:  timeout,
			SkipPaths: []string{apiPrefix + notification.StreamPath},
		}),
		middleware.ErrorHandler(),
		middleware.Validation(),
	)

	return r
}

func (r *Router) Setup() {
	// Probes and metrics carry no session.
	root := r.engine.Group("")
	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(root)
	}
	if r.handlers.Metrics != nil {
		r.engine.GET("/metrics", r.handlers.Metrics)
	}

	web := r.engine.Group("", r.sessions.Load())
	r.handlers.Auth.RegisterRoutes(web)

	api := web.Group(apiPrefix, middleware.Cache(middleware.NoStoreCacheConfig()))
	r.handlers.Register.RegisterRoutes(api)
	for _, h := range []Handler{
		r.handlers.Patient,
		r.handlers.Record,
		r.handlers.Search,
		r.handlers.Message,
		r.handlers.Image,
		r.handlers.Notification,
		r.handlers.Audit,
	} {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

