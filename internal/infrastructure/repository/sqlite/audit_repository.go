package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dbpkg "storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/domain/repositories"
)

type AuditRepo struct {
	db *dbpkg.Database
}

var _ repositories.AuditRepository = (*AuditRepo)(nil)

func NewAuditRepo(db *dbpkg.Database) *AuditRepo { return &AuditRepo{db: db} }

const auditColumns = `seq, id, timestamp, type, severity, actor, key_id, backend, action,
	resource, outcome, ip, request_id, details`

func (r *AuditRepo) Insert(ctx context.Context, ev *entities.AuditEvent) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	var details interface{}
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("failed to encode audit details: %w", err)
		}
		details = string(b)
	}
	ts := ""
	if !ev.Timestamp.IsZero() {
		ts = dbpkg.FormatTime(ev.Timestamp)
	}
	res, err := r.db.GetDB().ExecContext(ctx, `
	INSERT INTO audit_events (
		id, timestamp, type, severity, actor, key_id, backend, action,
		resource, outcome, ip, request_id, details
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ts, ev.Type, ev.Severity, ev.Actor, ev.KeyID, ev.Backend, ev.Action,
		ev.Resource, ev.Outcome, ev.IP, ev.RequestID, details)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		ev.Seq = seq
	}
	return nil
}

func (r *AuditRepo) Query(ctx context.Context, f entities.AuditFilter) ([]entities.AuditEvent, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	where, args := auditWhere(f)
	query := `SELECT ` + auditColumns + ` FROM audit_events` + where + ` ORDER BY timestamp DESC, seq DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	out := []entities.AuditEvent{}
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Scan(ctx context.Context, since time.Time, fn func(ev *entities.AuditEvent) error) error {
	if r.db == nil {
		return ErrDBUnavailable
	}
	query := `SELECT ` + auditColumns + ` FROM audit_events`
	var args []interface{}
	if !since.IsZero() {
		query += ` WHERE timestamp >= ?`
		args = append(args, dbpkg.FormatTime(since))
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.db.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to scan audit events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *AuditRepo) Stats(ctx context.Context, since time.Time) (*entities.AuditStats, error) {
	if r.db == nil {
		return nil, ErrDBUnavailable
	}
	stats := &entities.AuditStats{
		Since:     since,
		ByType:    map[string]int64{},
		ByOutcome: map[string]int64{},
		ByBackend: map[string]int64{},
	}
	sinceStr := dbpkg.FormatTime(since)

	groups := []struct {
		column string
		into   map[string]int64
	}{
		{"type", stats.ByType},
		{"outcome", stats.ByOutcome},
		{"backend", stats.ByBackend},
	}
	for _, g := range groups {
		rows, err := r.db.GetDB().QueryContext(ctx,
			`SELECT `+g.column+`, COUNT(*) FROM audit_events WHERE timestamp >= ? GROUP BY `+g.column, sinceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate audit by %s: %w", g.column, err)
		}
		for rows.Next() {
			var (
				key string
				n   int64
			)
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, err
			}
			if key == "" {
				continue
			}
			g.into[key] = n
		}
		rows.Close()
	}
	for _, n := range stats.ByType {
		stats.Total += n
	}
	stats.Denied = stats.ByOutcome["denied"]
	return stats, nil
}

func (r *AuditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r.db == nil {
		return 0, ErrDBUnavailable
	}
	res, err := r.db.GetDB().ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, dbpkg.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return res.RowsAffected()
}

func auditWhere(f entities.AuditFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if len(f.Types) > 0 {
		where = append(where, "type IN (?"+strings.Repeat(", ?", len(f.Types)-1)+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Backend != "" {
		where = append(where, "backend = ?")
		args = append(args, f.Backend)
	}
	if f.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, f.Outcome)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, dbpkg.FormatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, dbpkg.FormatTime(f.Until))
	}
	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func scanAuditEvent(s scanner) (*entities.AuditEvent, error) {
	var (
		ev      entities.AuditEvent
		ts      string
		details sql.NullString
	)
	err := s.Scan(&ev.Seq, &ev.ID, &ts, &ev.Type, &ev.Severity, &ev.Actor, &ev.KeyID, &ev.Backend,
		&ev.Action, &ev.Resource, &ev.Outcome, &ev.IP, &ev.RequestID, &details)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	ev.Timestamp = dbpkg.ParseTime(ts)
	if details.Valid && details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &ev.Details)
	}
	return &ev, nil
}
