package repositories

import (
	"context"
	"time"

	"storage-kit-hub/internal/domain/entities"
)

// APIKeyUpdate carries optional field changes; nil pointers leave a field untouched.
type APIKeyUpdate struct {
	Name         *string
	Description  *string
	Scopes       *[]string
	Backends     *[]string
	RateLimit    *int
	ExpiresAt    *time.Time
	ClearExpires bool
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *entities.APIKey, keyHash string) error
	GetByID(ctx context.Context, id string) (*entities.APIKey, error)
	GetByHash(ctx context.Context, keyHash string) (*entities.APIKey, error)
	List(ctx context.Context, filter entities.APIKeyFilter) ([]entities.APIKey, error)
	Update(ctx context.Context, id string, upd APIKeyUpdate) error
	UpdateStatus(ctx context.Context, id, status string) error
	UpdateHash(ctx context.Context, id, prefix, keyHash string) error
	Delete(ctx context.Context, id string) error
	RecordUsage(ctx context.Context, usage *entities.APIKeyUsage) error
	UsageStats(ctx context.Context, id string, since time.Time) (*entities.UsageStats, error)
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	RevokeByOwner(ctx context.Context, ownerID string) (int64, error)
	UpdateRoleByOwner(ctx context.Context, ownerID, role string) (int64, error)
	Count(ctx context.Context) (int64, error)
}
