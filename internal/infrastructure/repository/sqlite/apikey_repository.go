package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

type APIKeyRepo struct {
	db *dbpkg.Database
}

var _ repositories.APIKeyRepository = (*APIKeyRepo)(nil)

func NewAPIKeyRepo(db *dbpkg.Database) *APIKeyRepo { return &APIKeyRepo{db: db} }

const apiKeyColumns = `id, name, description, prefix, owner_id, role, scopes, backends, status,
	rate_limit, expires_at, usage_count, last_used_at, created_at, updated_at`

func (r *APIKeyRepo) Create(ctx context.Context, key *entities.APIKey, keyHash string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	_, err := r.db.GetDB().ExecContext(ctx, `
	INSERT INTO api_keys (
		id, name, description, key_hash, prefix, owner_id, role, scopes, backends, status,
		rate_limit, expires_at, usage_count, last_used_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.Description, keyHash, key.Prefix, key.OwnerID, key.Role,
		encodeStrings(key.Scopes), encodeStrings(key.Backends), key.Status, key.RateLimit,
		dbpkg.NullTime(key.ExpiresAt), key.UsageCount, dbpkg.NullTime(key.LastUsedAt),
		dbpkg.FormatTime(key.CreatedAt), dbpkg.FormatTime(key.UpdatedAt),
	)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return derrors.ErrConflict.WithMessage("API key already exists")
		}
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) GetByID(ctx context.Context, id string) (*entities.APIKey, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row)
}

func (r *APIKeyRepo) GetByHash(ctx context.Context, keyHash string) (*entities.APIKey, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	row := r.db.GetDB().QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, keyHash)
	return scanAPIKey(row)
}

func (r *APIKeyRepo) List(ctx context.Context, filter entities.APIKeyFilter) ([]entities.APIKey, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	var (
		where []string
		args  []interface{}
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, filter.Role)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	out := []entities.APIKey{}
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepo) Update(ctx context.Context, id string, upd repositories.APIKeyUpdate) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	sets := []string{"updated_at = ?"}
	args := []interface{}{dbpkg.FormatTime(time.Now())}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *upd.Description)
	}
	if upd.Scopes != nil {
		sets = append(sets, "scopes = ?")
		args = append(args, encodeStrings(*upd.Scopes))
	}
	if upd.Backends != nil {
		sets = append(sets, "backends = ?")
		args = append(args, encodeStrings(*upd.Backends))
	}
	if upd.RateLimit != nil {
		sets = append(sets, "rate_limit = ?")
		args = append(args, *upd.RateLimit)
	}
	if upd.ClearExpires {
		sets = append(sets, "expires_at = NULL")
	} else if upd.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, dbpkg.FormatTime(*upd.ExpiresAt))
	}
	args = append(args, id)
	res, err := r.db.GetDB().ExecContext(ctx, `UPDATE api_keys SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	return requireAffected(res, derrors.ErrAPIKeyNotFound)
}

func (r *APIKeyRepo) UpdateStatus(ctx context.Context, id, status string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE api_keys SET status = ?, updated_at = ? WHERE id = ?`,
		status, dbpkg.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update api key status: %w", err)
	}
	return requireAffected(res, derrors.ErrAPIKeyNotFound)
}

func (r *APIKeyRepo) UpdateHash(ctx context.Context, id, prefix, keyHash string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE api_keys SET key_hash = ?, prefix = ?, updated_at = ? WHERE id = ?`,
		keyHash, prefix, dbpkg.FormatTime(time.Now()), id)
	if err != nil {
		if dbpkg.IsUniqueViolation(err) {
			return derrors.ErrConflict.WithMessage("API key hash collision")
		}
		return fmt.Errorf("failed to rotate api key: %w", err)
	}
	return requireAffected(res, derrors.ErrAPIKeyNotFound)
}

func (r *APIKeyRepo) Delete(ctx context.Context, id string) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if err := requireAffected(res, derrors.ErrAPIKeyNotFound); err != nil {
		return err
	}
	if _, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM api_usage_logs WHERE api_key_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete api key usage: %w", err)
	}
	return nil
}

// RecordUsage bumps the usage counter and appends a usage log row in one transaction.
func (r *APIKeyRepo) RecordUsage(ctx context.Context, u *entities.APIKeyUsage) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	tx, err := r.db.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := dbpkg.FormatTime(u.RequestTime)
	if _, err := tx.ExecContext(ctx,
		`UPDATE api_keys SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		ts, u.APIKeyID); err != nil {
		return fmt.Errorf("failed to update api key usage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
	INSERT INTO api_usage_logs (
		api_key_id, endpoint, method, backend, status_code, response_time_ms,
		ip_address, user_agent, request_time
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.APIKeyID, u.Endpoint, u.Method, u.Backend, u.StatusCode, u.ResponseTimeMs,
		u.IPAddress, u.UserAgent, ts); err != nil {
		return fmt.Errorf("failed to log api usage: %w", err)
	}
	return tx.Commit()
}

func (r *APIKeyRepo) UsageStats(ctx context.Context, id string, since time.Time) (*entities.UsageStats, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	stats := &entities.UsageStats{APIKeyID: id, Since: since, Endpoints: []entities.EndpointCount{}}
	sinceStr := dbpkg.FormatTime(since)

	var avg sql.NullFloat64
	err := r.db.GetDB().QueryRowContext(ctx, `
	SELECT COUNT(*),
	       COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
	       AVG(response_time_ms)
	FROM api_usage_logs WHERE api_key_id = ? AND request_time >= ?`, id, sinceStr).
		Scan(&stats.TotalRequests, &stats.ErrorRequests, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	if avg.Valid {
		stats.AvgResponseTimeMs = avg.Float64
	}

	rows, err := r.db.GetDB().QueryContext(ctx, `
	SELECT endpoint, method, COUNT(*) AS n
	FROM api_usage_logs WHERE api_key_id = ? AND request_time >= ?
	GROUP BY endpoint, method ORDER BY n DESC, endpoint ASC`, id, sinceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate endpoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ec entities.EndpointCount
		if err := rows.Scan(&ec.Endpoint, &ec.Method, &ec.Count); err != nil {
			return nil, err
		}
		stats.Endpoints = append(stats.Endpoints, ec)
	}
	return stats, rows.Err()
}

// ExpireBefore flips active keys whose expiry is at or before now to expired.
func (r *APIKeyRepo) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	ts := dbpkg.FormatTime(now)
	res, err := r.db.GetDB().ExecContext(ctx, `
	UPDATE api_keys SET status = 'expired', updated_at = ?
	WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= ?`, ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to expire api keys: %w", err)
	}
	return res.RowsAffected()
}

func (r *APIKeyRepo) RevokeByOwner(ctx context.Context, ownerID string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE api_keys SET status = 'revoked', updated_at = ? WHERE owner_id = ? AND status = 'active'`,
		dbpkg.FormatTime(time.Now()), ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke owner keys: %w", err)
	}
	return res.RowsAffected()
}

// UpdateRoleByOwner moves every key of an owner, whatever its status, to role.
func (r *APIKeyRepo) UpdateRoleByOwner(ctx context.Context, ownerID, role string) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx,
		`UPDATE api_keys SET role = ?, updated_at = ? WHERE owner_id = ?`,
		role, dbpkg.FormatTime(time.Now()), ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to update owner key roles: %w", err)
	}
	return res.RowsAffected()
}

func (r *APIKeyRepo) Count(ctx context.Context) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	var n int64
	if err := r.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count api keys: %w", err)
	}
	return n, nil
}

func scanAPIKey(s scanner) (*entities.APIKey, error) {
	var (
		k                     entities.APIKey
		scopes, backends      string
		expiresAt, lastUsedAt sql.NullString
		createdAt, updatedAt  string
	)
	err := s.Scan(
		&k.ID, &k.Name, &k.Description, &k.Prefix, &k.OwnerID, &k.Role, &scopes, &backends,
		&k.Status, &k.RateLimit, &expiresAt, &k.UsageCount, &lastUsedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, derrors.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	k.Scopes = decodeStrings(scopes)
	k.Backends = decodeStrings(backends)
	k.ExpiresAt = dbpkg.ParseNullTime(expiresAt)
	k.LastUsedAt = dbpkg.ParseNullTime(lastUsedAt)
	k.CreatedAt = dbpkg.ParseTime(createdAt)
	k.UpdatedAt = dbpkg.ParseTime(updatedAt)
	return &k, nil
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}
