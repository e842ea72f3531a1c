package repositories

import (
	"context"
	"time"

	"storage-kit-hub/internal/domain/entities"
)

type AuditRepository interface {
	Insert(ctx context.Context, ev *entities.AuditEvent) error
	Query(ctx context.Context, filter entities.AuditFilter) ([]entities.AuditEvent, error)
	// Scan visits events with timestamp >= since in insertion order.
	Scan(ctx context.Context, since time.Time, fn func(ev *entities.AuditEvent) error) error
	Stats(ctx context.Context, since time.Time) (*entities.AuditStats, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
