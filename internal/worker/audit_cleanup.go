package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleaner deletes audit entries past their retention.
type Cleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

type AuditCleanupWorker struct {
	cleaner         Cleaner
	retentionDays   int
	cleanupInterval time.Duration
}

func NewAuditCleanupWorker(cleaner Cleaner, retentionDays int, cleanupInterval time.Duration) *AuditCleanupWorker {
	if cleanupInterval <= 0 {
		cleanupInterval = 24 * time.Hour
	}
	return &AuditCleanupWorker{
		cleaner:         cleaner,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
	}
}

// Start runs one cleanup immediately, then one per interval until ctx ends.
func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("audit cleanup failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *AuditCleanupWorker) RunOnce(ctx context.Context) error {
	rows, err := w.cleaner.Cleanup(ctx, w.retentionDays)
	if err != nil {
		return fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	log.Info().
		Int64("deleted", rows).
		Int("retention_days", w.retentionDays).
		Msg("audit logs cleaned up")
	return nil
}
