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

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/config"
	"github.com/jwalitptl/patient-portal/internal/repository/postgres"
	"github.com/jwalitptl/patient-portal/internal/service/audit"
	"github.com/jwalitptl/patient-portal/internal/worker"
	"github.com/jwalitptl/patient-portal/pkg/logger"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

func setupHealthCheck(port int, ping func(context.Context) error) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	healthPort := flag.Int("health-port", 8081, "port for health probes")
	once := flag.Bool("once", false, "run a single cleanup and exit")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize logger
	lg := logger.Setup(&logger.Config{
		Level:      logger.ParseLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
		Console:    cfg.Logging.Console,
	}).WithFields(map[string]interface{}{"component": "audit_cleanup"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		lg.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	if err := postgres.EnsureAuditSchema(ctx, base); err != nil {
		lg.Fatal(err, "failed to prepare audit schema")
	}

	// Initialize audit service and cleanup worker
	auditSvc := audit.NewService(postgres.NewAuditRepository(base), metrics.NewMetrics("portal_worker", nil))
	cleanup := worker.NewAuditCleanupWorker(auditSvc, cfg.Audit.RetentionDays, cfg.Audit.CleanupInterval)

	if *once {
		if err := cleanup.RunOnce(ctx); err != nil {
			lg.Fatal(err, "audit cleanup failed")
		}
		return
	}

	health := setupHealthCheck(*healthPort, base.Ping)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		lg.Info("shutting down...")
		cancel()
	}()

	lg.Info("audit cleanup worker started",
		"retention_days", cfg.Audit.RetentionDays,
		"interval", cfg.Audit.CleanupInterval.String(),
	)
	cleanup.Start(ctx)

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = health.Shutdown(shutdownCtx)
}
