package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/patient-portal/internal/backend"
	"github.com/jwalitptl/patient-portal/internal/config"
	audithandler "github.com/jwalitptl/patient-portal/internal/handler/audit"
	authhandler "github.com/jwalitptl/patient-portal/internal/handler/auth"
	"github.com/jwalitptl/patient-portal/internal/handler/health"
	imagehandler "github.com/jwalitptl/patient-portal/internal/handler/image"
	messagehandler "github.com/jwalitptl/patient-portal/internal/handler/message"
	notificationhandler "github.com/jwalitptl/patient-portal/internal/handler/notification"
	patienthandler "github.com/jwalitptl/patient-portal/internal/handler/patient"
	prometheushandler "github.com/jwalitptl/patient-portal/internal/handler/prometheus"
	recordhandler "github.com/jwalitptl/patient-portal/internal/handler/record"
	searchhandler "github.com/jwalitptl/patient-portal/internal/handler/search"
	userhandler "github.com/jwalitptl/patient-portal/internal/handler/user"
	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/repository/postgres"
	"github.com/jwalitptl/patient-portal/internal/router"
	"github.com/jwalitptl/patient-portal/internal/service/audit"
	"github.com/jwalitptl/patient-portal/internal/service/identity"
	"github.com/jwalitptl/patient-portal/internal/service/messaging"
	"github.com/jwalitptl/patient-portal/internal/service/onboarding"
	"github.com/jwalitptl/patient-portal/internal/service/records"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/auth"
	"github.com/jwalitptl/patient-portal/pkg/circuitbreaker"
	"github.com/jwalitptl/patient-portal/pkg/logger"
	broker "github.com/jwalitptl/patient-portal/pkg/messaging"
	"github.com/jwalitptl/patient-portal/pkg/messaging/redis"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
	"github.com/jwalitptl/patient-portal/pkg/notify"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	lg := logger.Setup(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Logging.Console,
	})

	if err := validator.Register(); err != nil {
		log.Fatal().Err(err).Msg("failed to register validation rules")
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics("portal", registry)

	ctx := context.Background()
	checks := map[string]health.Check{}

	// Initialize Redis, when configured
	var redisClient *goredis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.Redis.ToBrokerConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	// Initialize message broker
	var events broker.Broker
	if redisClient != nil {
		events = redis.NewRedisBroker(redisClient, lg.Zerolog())
	} else {
		events = broker.NewMemoryBroker()
	}

	// Initialize session store
	codec, err := session.NewCodec(cfg.Session.Secret)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session codec")
	}
	var store session.Store
	switch cfg.Session.Store {
	case "redis":
		if redisClient == nil {
			log.Fatal().Msg("redis session store requires redis.url")
		}
		store = session.NewRedisStore(redisClient, codec, m)
	default:
		store = session.NewMemoryStore(codec, time.Minute, m)
	}

	// Initialize identity provider
	key, err := auth.ParseRSAPublicKey(cfg.Identity.PublicKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse identity public key")
	}
	verifier := auth.NewRSAVerifier(key, auth.VerifierOptions{
		Issuer:   cfg.Identity.Issuer,
		ClientID: cfg.Identity.ClientID,
		Leeway:   30 * time.Second,
	})
	identitySvc := identity.NewService(identity.Config{
		Issuer:                cfg.Identity.Issuer,
		ClientID:              cfg.Identity.ClientID,
		ClientSecret:          cfg.Identity.ClientSecret,
		RedirectURL:           cfg.Identity.RedirectURL,
		PostLogoutRedirectURL: cfg.Identity.PostLogoutRedirectURL,
		Scopes:                cfg.Identity.Scopes,
	}, verifier)
	refresher := identitySvc.OAuth()

	// Initialize backend clients
	requester := apiclient.New(
		apiclient.WithHTTPClient(&http.Client{Timeout: cfg.Services.Timeout}),
		apiclient.WithBreakers(circuitbreaker.NewSet(circuitbreaker.Settings{
			MaxRequests:         1,
			Interval:            time.Minute,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		})),
		apiclient.WithMetrics(m),
	)
	clients := backend.New(requester, backend.Endpoints{
		Users:     cfg.Services.Users,
		Search:    cfg.Services.Search,
		Records:   cfg.Services.Records,
		Messaging: cfg.Services.Messaging,
		Images:    cfg.Services.Images,
	})

	// Initialize services
	recordSvc := records.NewService(clients.Users, clients.Records, events)
	onboardSvc := onboarding.NewService(clients.Users, clients.Search, onboarding.Config{
		Attempts: cfg.Onboarding.Attempts,
		Interval: cfg.Onboarding.Interval,
	})
	messageSvc := messaging.NewService(clients.Messaging, clients.Users, 10*time.Minute)
	channels := notify.NewRegistry(cfg.Notify,
		notify.WithMetrics(m),
		notify.WithLogger(*lg.Zerolog()),
	)

	// Initialize audit trail, when enabled
	var (
		db          *sqlx.DB
		auditSvc    *audit.Service
		auditLogger *audit.AuditLogger
		recorder    audit.Recorder
	)
	if cfg.Audit.Enabled {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		base := postgres.NewBaseRepository(db)
		if err := postgres.EnsureAuditSchema(ctx, base); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare audit schema")
		}
		auditSvc = audit.NewService(postgres.NewAuditRepository(base), m)
		auditLogger = audit.NewAuditLogger(auditSvc, cfg.Audit.Buffer)
		recorder = auditLogger
		checks["database"] = base.Ping
	}

	// Initialize middleware
	sessions := middleware.NewSessionAuth(store, refresher, middleware.CookieConfig{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.CookieSecure,
	})
	auditMiddleware := middleware.NewAuditMiddleware(recorder)
	guard := sessions.RequireRoles

	// Initialize handlers
	handlers := router.Handlers{
		Auth: authhandler.NewHandler(identitySvc, onboardSvc, channels, store, sessions, refresher, recorder, authhandler.Config{
			SessionLifetime: cfg.Session.Lifetime,
		}),
		Register:     userhandler.NewHandler(clients.Users),
		Patient:      patienthandler.NewHandler(recordSvc, guard, auditMiddleware),
		Record:       recordhandler.NewHandler(recordSvc, guard, auditMiddleware),
		Search:       searchhandler.NewHandler(clients.Search, clients.Users, guard),
		Message:      messagehandler.NewHandler(messageSvc, guard),
		Image:        imagehandler.NewHandler(clients.Images, guard, auditMiddleware),
		Notification: notificationhandler.NewHandler(channels, events, guard, 0),
		Health:       health.NewHandler(checks),
		Metrics:      prometheushandler.New(registry).Handler(),
	}
	if auditSvc != nil {
		handlers.Audit = audithandler.NewHandler(auditSvc, guard)
	}

	routerConfig := router.RouterConfig{
		Mode:           cfg.Server.Mode,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSConfig:     middleware.DefaultCORSConfig(cfg.Security.AllowedOrigins),
		SizeLimit:      middleware.DefaultSizeLimitConfig(),
	}
	if cfg.Server.MaxBodyBytes > 0 {
		routerConfig.SizeLimit.MaxUploadSize = cfg.Server.MaxBodyBytes
	}
	if cfg.RateLimit.Enabled {
		routerConfig.RateLimit = &middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		}
	}

	r := router.NewRouter(sessions, m, handlers, routerConfig)
	r.Setup()

	// Zero WriteTimeout leaves notification streams open.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	channels.Close()
	if auditLogger != nil {
		auditLogger.Close()
	}
	if err := events.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close message broker")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}

	log.Info().Msg("server exited properly")
}
