// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	"storage-kit-hub/internal/infrastructure/repository/sqlite"
)

// NewTestDB opens a schema-initialised SQLite database under t.TempDir.
func NewTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// NewAuthorizer returns an authorizer over db with the built-in roles seeded.
func NewAuthorizer(t *testing.T, db *database.Database, rec authz.AuditRecorder) *authz.Authorizer {
	t.Helper()
	enforcer, err := authz.NewEnforcer(db.GetDB())
	require.NoError(t, err)
	opts := []authz.Option{}
	if rec != nil {
		opts = append(opts, authz.WithAudit(rec))
	}
	z := authz.NewAuthorizer(enforcer, sqlite.NewRoleRepo(db), sqlite.NewUserRepo(db), time.Minute, opts...)
	require.NoError(t, z.SeedDefaults(context.Background()))
	return z
}

// Recorder collects audit events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []entities.AuditEvent
}

func (r *Recorder) Log(ev entities.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Types lists recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *Recorder) ByType(typ string) []entities.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.AuditEvent
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
