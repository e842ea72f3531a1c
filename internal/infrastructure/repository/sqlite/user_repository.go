package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

type UserRepo struct {
	db *dbpkg.Database
}

var _ repositories.UserRepository = (*UserRepo)(nil)

func NewUserRepo(db *dbpkg.Database) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, email, role, status, totp_enabled, created_at, updated_at, last_login_at`

func (r *UserRepo) Create(ctx context.Context, u *entities.User, passwordHash string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	_, err := r.db.GetDB().ExecContext(ctx, `
	INSERT INTO users (id, username, email, password_hash, role, status, created_at, updated_at, last_login_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, passwordHash, u.Role, u.Status,
		dbpkg.FormatTime(u.CreatedAt), dbpkg.FormatTime(u.UpdatedAt), dbpkg.NullTime(u.LastLoginAt),
	)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return derrors.ErrConflict.WithMessage("User already exists")
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entities.User, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*entities.User, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *UserRepo) GetPasswordHash(ctx context.Context, username string) (string, error) {
	if r.db == nil {
		return "", ErrDBUnavailable
	}
	var hash string
	err := r.db.GetDB().QueryRowContext(ctx, `SELECT password_hash FROM users WHERE username = ?`, username).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", derrors.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to load password hash: %w", err)
	}
	return hash, nil
}

func (r *UserRepo) List(ctx context.Context) ([]entities.User, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	rows, err := r.db.GetDB().QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	out := []entities.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *UserRepo) UpdateRole(ctx context.Context, username, role string) error {
	return r.updateField(ctx, username, "role", role)
}

func (r *UserRepo) UpdateStatus(ctx context.Context, username, status string) error {
	return r.updateField(ctx, username, "status", status)
}

// GetTOTP returns the stored secret, which may be pending, and whether it is enforced.
func (r *UserRepo) GetTOTP(ctx context.Context, username string) (string, bool, error) {
	if r.db == nil {
		return "", false, ErrDBUnavailable
	}
	var (
		secret  string
		enabled bool
	)
	err := r.db.GetDB().QueryRowContext(ctx,
		`SELECT totp_secret, totp_enabled FROM users WHERE username = ?`, username).Scan(&secret, &enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, derrors.ErrUserNotFound
		}
		return "", false, fmt.Errorf("failed to get totp: %w", err)
	}
	return secret, enabled, nil
}

func (r *UserRepo) SetTOTP(ctx context.Context, username string, enabled bool, secret string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE users SET totp_secret = ?, totp_enabled = ?, updated_at = ? WHERE username = ?`,
		secret, enabled, dbpkg.FormatTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("failed to update totp: %w", err)
	}
	return requireAffected(res, derrors.ErrUserNotFound)
}

func (r *UserRepo) TouchLogin(ctx context.Context, username string, at time.Time) error {
	return r.updateField(ctx, username, "last_login_at", dbpkg.FormatTime(at))
}

// updateField is only called with hard-coded column names.
func (r *UserRepo) updateField(ctx context.Context, username, column string, value interface{}) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE username = ?`,
		value, dbpkg.FormatTime(time.Now()), username)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	return requireAffected(res, derrors.ErrUserNotFound)
}

func (r *UserRepo) Delete(ctx context.Context, username string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(res, derrors.ErrUserNotFound)
}

func (r *UserRepo) CountByRole(ctx context.Context, role string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	var n int64
	if err := r.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = ?`, role).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func scanUser(s scanner) (*entities.User, error) {
	var (
		u                    entities.User
		createdAt, updatedAt string
		lastLogin            sql.NullString
	)
	if err := s.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.Status, &u.TOTPEnabled, &createdAt, &updatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, derrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = dbpkg.ParseTime(createdAt)
	u.UpdatedAt = dbpkg.ParseTime(updatedAt)
	u.LastLoginAt = dbpkg.ParseNullTime(lastLogin)
	return &u, nil
}
