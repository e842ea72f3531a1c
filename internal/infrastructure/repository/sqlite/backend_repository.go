package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbpkg "storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

type BackendRepo struct {
	db *dbpkg.Database
}

var _ repositories.BackendRepository = (*BackendRepo)(nil)

func NewBackendRepo(db *dbpkg.Database) *BackendRepo { return &BackendRepo{db: db} }

const backendColumns = `id, name, type, enabled, endpoint, settings, created_at, updated_at`

func (r *BackendRepo) Create(ctx context.Context, cfg *entities.BackendConfig) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	settings, err := encodeSettings(cfg.Settings)
	if err != nil {
		return err
	}
	_, err = r.db.GetDB().ExecContext(ctx, `
	INSERT INTO backend_configs (id, name, type, enabled, endpoint, settings, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.Type, cfg.Enabled, cfg.Endpoint, settings,
		dbpkg.FormatTime(cfg.CreatedAt), dbpkg.FormatTime(cfg.UpdatedAt))
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return derrors.ErrConflict.WithMessage("Backend already exists")
		}
		return fmt.Errorf("failed to insert backend config: %w", err)
	}
	return nil
}

func (r *BackendRepo) GetByName(ctx context.Context, name string) (*entities.BackendConfig, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx, `SELECT `+backendColumns+` FROM backend_configs WHERE name = ?`, name)
	return scanBackend(row)
}

func (r *BackendRepo) List(ctx context.Context) ([]entities.BackendConfig, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	rows, err := r.db.GetDB().QueryContext(ctx, `SELECT `+backendColumns+` FROM backend_configs ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backends: %w", err)
	}
	defer rows.Close()

	out := []entities.BackendConfig{}
	for rows.Next() {
		cfg, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (r *BackendRepo) Update(ctx context.Context, cfg *entities.BackendConfig) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	settings, err := encodeSettings(cfg.Settings)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()
	res, err := r.db.GetDB().ExecContext(ctx, `
	UPDATE backend_configs SET type = ?, enabled = ?, endpoint = ?, settings = ?, updated_at = ?
	WHERE name = ?`,
		cfg.Type, cfg.Enabled, cfg.Endpoint, settings, dbpkg.FormatTime(cfg.UpdatedAt), cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to update backend config: %w", err)
	}
	return requireAffected(res, derrors.ErrBackendNotFound)
}

func (r *BackendRepo) Delete(ctx context.Context, name string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM backend_configs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete backend config: %w", err)
	}
	return requireAffected(res, derrors.ErrBackendNotFound)
}

func scanBackend(s scanner) (*entities.BackendConfig, error) {
	var (
		cfg                  entities.BackendConfig
		settings             string
		createdAt, updatedAt string
	)
	if err := s.Scan(&cfg.ID, &cfg.Name, &cfg.Type, &cfg.Enabled, &cfg.Endpoint, &settings, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, derrors.ErrBackendNotFound
		}
		return nil, fmt.Errorf("failed to scan backend config: %w", err)
	}
	if settings != "" {
		_ = json.Unmarshal([]byte(settings), &cfg.Settings)
	}
	cfg.CreatedAt = dbpkg.ParseTime(createdAt)
	cfg.UpdatedAt = dbpkg.ParseTime(updatedAt)
	return &cfg, nil
}

func encodeSettings(settings map[string]interface{}) (string, error) {
	if settings == nil {
		return "{}", nil
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to encode backend settings: %w", err)
	}
	return string(b), nil
}
