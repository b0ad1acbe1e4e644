package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/patient-portal/internal/model"
)

// AuditRepository persists access audit rows.
type AuditRepository interface {
	Create(ctx context.Context, log *model.AuditLog) error
	List(ctx context.Context, filter model.AuditFilter) ([]*model.AuditLog, error)
	// Cleanup deletes rows created before the cutoff and returns how many.
	Cleanup(ctx context.Context, before time.Time) (int64, error)
}
