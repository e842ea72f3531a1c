package repositories

import (
	"context"
	"time"

	"storage-kit-hub/internal/domain/entities"
)

type UserRepository interface {
	Create(ctx context.Context, user *entities.User, passwordHash string) error
	GetByID(ctx context.Context, id string) (*entities.User, error)
	GetByUsername(ctx context.Context, username string) (*entities.User, error)
	GetPasswordHash(ctx context.Context, username string) (string, error)
	List(ctx context.Context) ([]entities.User, error)
	UpdateRole(ctx context.Context, username, role string) error
	UpdateStatus(ctx context.Context, username, status string) error
	GetTOTP(ctx context.Context, username string) (secret string, enabled bool, err error)
	SetTOTP(ctx context.Context, username string, enabled bool, secret string) error
	TouchLogin(ctx context.Context, username string, at time.Time) error
	Delete(ctx context.Context, username string) error
	CountByRole(ctx context.Context, role string) (int64, error)
}
