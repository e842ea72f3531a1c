package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/domain/repositories"
	"storage-kit-hub/internal/metrics"
)

// DefaultQueueSize is used when Options.QueueSize is not positive.
const DefaultQueueSize = 1024

// ErrNoStore is returned by read-side operations when no repository is attached.
var ErrNoStore = errors.New("audit store not configured")

// Sink persists or displays audit events. Write is only ever called from the
// logger's single worker goroutine.
type Sink interface {
	Name() string
	Write(ctx context.Context, ev *entities.AuditEvent) error
	Close() error
}

type item struct {
	ev    entities.AuditEvent
	flush chan struct{}
}

type Options struct {
	QueueSize int
	Sinks     []Sink
	// Store backs Query, Stats, retention, integrity and export.
	Store   repositories.AuditRepository
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Logger accepts audit events without blocking and writes them, in order,
// to every sink from one background worker.
type Logger struct {
	queue   chan item
	sinks   []Sink
	store   repositories.AuditRepository
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	dropped atomic.Int64
	written atomic.Int64

	now func() time.Time
}

// New starts the worker immediately; call Close to drain and stop it.
func New(opts Options) *Logger {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logger{
		queue:   make(chan item, size),
		sinks:   opts.Sinks,
		store:   opts.Store,
		log:     log,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go l.run()
	return l
}

// Log stamps missing fields and enqueues ev. When the queue is full the event
// is dropped and counted; Log never blocks.
func (l *Logger) Log(ev entities.AuditEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = entities.SeverityInfo
	}
	if ev.Outcome == "" {
		ev.Outcome = entities.OutcomeSuccess
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- item{ev: ev}:
		l.metrics.ObserveAudit("enqueued")
	default:
		l.dropped.Add(1)
		l.metrics.ObserveAudit("dropped")
		l.log.Warn("audit queue full, event dropped", zap.String("type", ev.Type), zap.String("id", ev.ID))
	}
}

// Flush blocks until every event enqueued before the call has been written.
func (l *Logger) Flush(ctx context.Context) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	marker := make(chan struct{})
	select {
	case l.queue <- item{flush: marker}:
		l.mu.RUnlock()
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops intake, drains the queue and closes every sink.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of events discarded because the queue was full.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Written is the number of events handed to the sinks.
func (l *Logger) Written() int64 { return l.written.Load() }

func (l *Logger) run() {
	defer close(l.done)
	ctx := context.Background()

	for it := range l.queue {
		if it.flush != nil {
			close(it.flush)
			continue
		}
		for _, s := range l.sinks {
			if err := s.Write(ctx, &it.ev); err != nil {
				l.metrics.ObserveAudit("sink_error")
				l.log.Error("audit sink write failed",
					zap.String("sink", s.Name()), zap.String("event_id", it.ev.ID), zap.Error(err))
			}
		}
		l.written.Add(1)
		l.metrics.ObserveAudit("written")
	}

	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			l.log.Warn("audit sink close failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}

// Query returns stored events matching f, newest first.
func (l *Logger) Query(ctx context.Context, f entities.AuditFilter) ([]entities.AuditEvent, error) {
	if l.store == nil {
		return nil, ErrNoStore
	}
	return l.store.Query(ctx, f)
}

// Stats aggregates stored events since the given time.
func (l *Logger) Stats(ctx context.Context, since time.Time) (*entities.AuditStats, error) {
	if l.store == nil {
		return nil, ErrNoStore
	}
	return l.store.Stats(ctx, since)
}
