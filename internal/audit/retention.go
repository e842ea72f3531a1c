package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"storage-kit-hub/internal/domain/entities"
)

// ApplyRetention deletes events older than days and records a
// retention.applied event. days <= 0 keeps everything.
func (l *Logger) ApplyRetention(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	if l.store == nil {
		return 0, ErrNoStore
	}
	cutoff := l.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("apply retention: %w", err)
	}
	l.Log(entities.AuditEvent{
		Type:     entities.AuditRetentionApplied,
		Severity: entities.SeverityInfo,
		Actor:    "system",
		Outcome:  entities.OutcomeSuccess,
		Details: map[string]interface{}{
			"retention_days": days,
			"cutoff":         cutoff.Format(time.RFC3339),
			"deleted":        n,
		},
	})
	return n, nil
}

// Scheduler runs retention on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	logger  *Logger
	days    int
	timeout time.Duration
	log     *zap.Logger
}

// NewScheduler registers the retention job; spec uses robfig/cron syntax
// including descriptors such as @daily.
func NewScheduler(l *Logger, spec string, days int, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if spec == "" {
		spec = "@daily"
	}
	s := &Scheduler{
		cron:    cron.New(),
		logger:  l,
		days:    days,
		timeout: time.Minute,
		log:     log,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.logger.ApplyRetention(ctx, s.days)
	if err != nil {
		s.log.Error("audit retention failed", zap.Error(err))
		return
	}
	s.log.Info("audit retention applied", zap.Int64("deleted", n), zap.Int("days", s.days))
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for a running job, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
