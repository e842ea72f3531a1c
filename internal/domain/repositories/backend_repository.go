package repositories

import (
	"context"

	"storage-kit-hub/internal/domain/entities"
)

type BackendRepository interface {
	Create(ctx context.Context, cfg *entities.BackendConfig) error
	GetByName(ctx context.Context, name string) (*entities.BackendConfig, error)
	List(ctx context.Context) ([]entities.BackendConfig, error)
	Update(ctx context.Context, cfg *entities.BackendConfig) error
	Delete(ctx context.Context, name string) error
}
