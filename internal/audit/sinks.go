package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"

	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/domain/repositories"
)

// ConsoleSink writes events through zap.
type ConsoleSink struct {
	log *zap.Logger
}

func NewConsoleSink(log *zap.Logger) *ConsoleSink {
	return &ConsoleSink{log: log.Named("audit")}
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Write(_ context.Context, ev *entities.AuditEvent) error {
	fields := []zap.Field{
		zap.String("id", ev.ID),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("type", ev.Type),
		zap.String("outcome", ev.Outcome),
	}
	if ev.Actor != "" {
		fields = append(fields, zap.String("actor", ev.Actor))
	}
	if ev.KeyID != "" {
		fields = append(fields, zap.String("key_id", ev.KeyID))
	}
	if ev.Backend != "" {
		fields = append(fields, zap.String("backend", ev.Backend))
	}
	if ev.Action != "" {
		fields = append(fields, zap.String("action", ev.Action))
	}
	if ev.Resource != "" {
		fields = append(fields, zap.String("resource", ev.Resource))
	}
	if ev.RequestID != "" {
		fields = append(fields, zap.String("request_id", ev.RequestID))
	}
	if len(ev.Details) > 0 {
		fields = append(fields, zap.Any("details", ev.Details))
	}

	switch ev.Severity {
	case entities.SeverityCritical:
		s.log.Error("audit event", fields...)
	case entities.SeverityWarning:
		s.log.Warn("audit event", fields...)
	default:
		s.log.Info("audit event", fields...)
	}
	return nil
}

func (s *ConsoleSink) Close() error { return nil }

// FileSink appends one JSON object per line to a size-rotated file.
type FileSink struct {
	w io.WriteCloser
}

// NewFileSink rotates path at maxSizeMB, keeping maxBackups files for maxAgeDays.
func NewFileSink(path string, maxSizeMB, maxBackups, maxAgeDays int) *FileSink {
	return &FileSink{w: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}}
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, ev *entities.AuditEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	b = append(b, '\n')
	_, err = s.w.Write(b)
	return err
}

func (s *FileSink) Close() error { return s.w.Close() }

// DBSink stores events through the audit repository.
type DBSink struct {
	repo repositories.AuditRepository
}

func NewDBSink(repo repositories.AuditRepository) *DBSink {
	return &DBSink{repo: repo}
}

func (s *DBSink) Name() string { return "database" }

func (s *DBSink) Write(ctx context.Context, ev *entities.AuditEvent) error {
	return s.repo.Insert(ctx, ev)
}

func (s *DBSink) Close() error { return nil }
