package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

// backendTypes are the storage kinds a backend entry may describe.
var backendTypes = map[string]bool{
	authz.BackendIPFS:        true,
	authz.BackendIPFSCluster: true,
	authz.BackendLotus:       true,
	authz.BackendFilecoin:    true,
	authz.BackendS3:          true,
	authz.BackendHuggingFace: true,
	authz.BackendStoracha:    true,
	authz.BackendGDrive:      true,
	authz.BackendLassie:      true,
}

type BackendUseCase struct {
	repo  repositories.BackendRepository
	audit authz.AuditRecorder
	now   func() time.Time
}

func NewBackendUseCase(repo repositories.BackendRepository, audit authz.AuditRecorder) *BackendUseCase {
	return &BackendUseCase{repo: repo, audit: audit, now: time.Now}
}

type BackendInput struct {
	Name     string
	Type     string
	Enabled  bool
	Endpoint string
	Settings map[string]interface{}
}

func validateBackend(in BackendInput) error {
	if !authz.ValidBackend(in.Name) || in.Name == authz.BackendSystem {
		return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("invalid backend name %q", in.Name))
	}
	if !backendTypes[in.Type] {
		return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("unsupported backend type %q", in.Type))
	}
	return nil
}

func (uc *BackendUseCase) Create(ctx context.Context, in BackendInput) (*entities.BackendConfig, error) {
	if err := validateBackend(in); err != nil {
		return nil, err
	}
	now := uc.now().UTC()
	cfg := &entities.BackendConfig{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Type:      in.Type,
		Enabled:   in.Enabled,
		Endpoint:  in.Endpoint,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, cfg); err != nil {
		return nil, err
	}
	uc.record(ctx, entities.AuditBackendConfigured, cfg, "create")
	return cfg, nil
}

func (uc *BackendUseCase) Get(ctx context.Context, name string) (*entities.BackendConfig, error) {
	return uc.repo.GetByName(ctx, name)
}

func (uc *BackendUseCase) List(ctx context.Context) ([]entities.BackendConfig, error) {
	return uc.repo.List(ctx)
}

// Update replaces the mutable fields of an existing backend. The name is the key
// and cannot change.
func (uc *BackendUseCase) Update(ctx context.Context, name string, in BackendInput) (*entities.BackendConfig, error) {
	in.Name = name
	if err := validateBackend(in); err != nil {
		return nil, err
	}
	cfg, err := uc.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	cfg.Type = in.Type
	cfg.Enabled = in.Enabled
	cfg.Endpoint = in.Endpoint
	cfg.Settings = in.Settings
	cfg.UpdatedAt = uc.now().UTC()
	if err := uc.repo.Update(ctx, cfg); err != nil {
		return nil, err
	}
	uc.record(ctx, entities.AuditBackendConfigured, cfg, "update")
	return cfg, nil
}

func (uc *BackendUseCase) Delete(ctx context.Context, name string) error {
	cfg, err := uc.repo.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if err := uc.repo.Delete(ctx, name); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditBackendDeleted, cfg, "delete")
	return nil
}

func (uc *BackendUseCase) record(ctx context.Context, typ string, cfg *entities.BackendConfig, op string) {
	if uc.audit == nil {
		return
	}
	uc.audit.Log(entities.AuditEvent{
		Type:     typ,
		Actor:    auth.ActorFrom(ctx),
		Backend:  cfg.Name,
		Action:   authz.ActionConfigure,
		Resource: "backend:" + cfg.Name,
		Outcome:  entities.OutcomeSuccess,
		Details:  map[string]interface{}{"operation": op, "type": cfg.Type, "enabled": cfg.Enabled},
	})
}
