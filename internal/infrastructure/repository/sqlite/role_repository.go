package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	dbpkg "storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

type RoleRepo struct {
	db *dbpkg.Database
}

var _ repositories.RoleRepository = (*RoleRepo)(nil)

func NewRoleRepo(db *dbpkg.Database) *RoleRepo { return &RoleRepo{db: db} }

func (r *RoleRepo) Create(ctx context.Context, role *entities.Role) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	_, err := r.db.GetDB().ExecContext(ctx,
		`INSERT INTO roles (name, description, builtin, created_at) VALUES (?, ?, ?, ?)`,
		role.Name, role.Description, role.Builtin, dbpkg.FormatTime(role.CreatedAt))
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return derrors.ErrConflict.WithMessage("Role already exists")
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

func (r *RoleRepo) Get(ctx context.Context, name string) (*entities.Role, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx,
		`SELECT name, description, builtin, created_at FROM roles WHERE name = ?`, name)
	return scanRole(row)
}

func (r *RoleRepo) List(ctx context.Context) ([]entities.Role, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	rows, err := r.db.GetDB().QueryContext(ctx,
		`SELECT name, description, builtin, created_at FROM roles ORDER BY builtin DESC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	out := []entities.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *role)
	}
	return out, rows.Err()
}

func (r *RoleRepo) Delete(ctx context.Context, name string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM roles WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return requireAffected(res, derrors.ErrRoleNotFound)
}

func scanRole(s scanner) (*entities.Role, error) {
	var (
		role      entities.Role
		createdAt string
	)
	if err := s.Scan(&role.Name, &role.Description, &role.Builtin, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, derrors.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}
	role.CreatedAt = dbpkg.ParseTime(createdAt)
	return &role, nil
}
