package repositories

import (
	"context"

	"storage-kit-hub/internal/domain/entities"
)

type RoleRepository interface {
	Create(ctx context.Context, role *entities.Role) error
	Get(ctx context.Context, name string) (*entities.Role, error)
	List(ctx context.Context) ([]entities.Role, error)
	Delete(ctx context.Context, name string) error
}
