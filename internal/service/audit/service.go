package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/repository"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
)

type Service struct {
	repo    repository.AuditRepository
	metrics *metrics.Metrics
}

func NewService(repo repository.AuditRepository, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{repo: repo, metrics: m}
}

// Log writes one audit entry, filling in the id and timestamp when unset.
func (s *Service) Log(ctx context.Context, entry *model.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.metrics.AuditWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	s.metrics.AuditWrites.WithLabelValues("ok").Inc()
	return nil
}

func (s *Service) List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error) {
	return s.repo.List(ctx, filter)
}

// Cleanup deletes entries older than the retention period.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("invalid retention period: %d days", retentionDays)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	return s.repo.Cleanup(ctx, cutoff)
}
