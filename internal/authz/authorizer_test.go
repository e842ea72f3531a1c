package authz

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storage-kit-hub/internal/database"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/infrastructure/repository/sqlite"
	"storage-kit-hub/internal/metrics"
)

type recorder struct {
	mu     sync.Mutex
	events []entities.AuditEvent
}

func (r *recorder) Log(ev entities.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) byType(typ string) []entities.AuditEvent {
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

type fixture struct {
	db    *database.Database
	authz *Authorizer
	rec   *recorder
	users *sqlite.UserRepo
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "authz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	enforcer, err := NewEnforcer(db.GetDB())
	require.NoError(t, err)

	rec := &recorder{}
	users := sqlite.NewUserRepo(db)
	z := NewAuthorizer(enforcer, sqlite.NewRoleRepo(db), users, time.Minute,
		WithAudit(rec), WithMetrics(metrics.New()))
	require.NoError(t, z.SeedDefaults(context.Background()))
	return &fixture{db: db, authz: z, rec: rec, users: users}
}

func (f *fixture) allowed(t *testing.T, role, backend, action string) bool {
	t.Helper()
	d, err := f.authz.Check(context.Background(), Request{Role: role, Backend: backend, Action: action})
	require.NoError(t, err)
	return d.Allowed
}

func TestCheck_DefaultMatrix(t *testing.T) {
	f := setup(t)

	cases := []struct {
		role, backend, action string
		want                  bool
	}{
		{RoleAdmin, BackendSystem, ActionConfigure, true},
		{RoleAdmin, "custom-store", ActionDelete, true},
		{RoleOperator, BackendS3, ActionDelete, true},
		{RoleOperator, BackendSystem, ActionRead, true},
		{RoleOperator, BackendSystem, ActionConfigure, false},
		{RoleUser, BackendIPFS, ActionWrite, true},
		{RoleUser, BackendFilecoin, ActionList, true},
		{RoleUser, BackendIPFS, ActionDelete, false},
		{RoleUser, BackendGDrive, ActionRead, false},
		{RoleUser, BackendSystem, ActionRead, false},
		{RoleReadonly, BackendLassie, ActionRead, true},
		{RoleReadonly, BackendS3, ActionWrite, false},
		{"nobody", BackendIPFS, ActionRead, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, f.allowed(t, c.role, c.backend, c.action), "%s %s %s", c.role, c.backend, c.action)
	}
}

func TestCheck_InvalidInput(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.authz.Check(ctx, Request{Role: RoleAdmin, Backend: "", Action: ActionRead})
	assert.True(t, errors.Is(err, derrors.ErrInvalidInput))

	_, err = f.authz.Check(ctx, Request{Role: RoleAdmin, Backend: BackendIPFS, Action: "fly"})
	assert.True(t, errors.Is(err, derrors.ErrInvalidInput))

	_, err = f.authz.Check(ctx, Request{Role: RoleAdmin, Backend: "Bad Name", Action: ActionRead})
	assert.True(t, errors.Is(err, derrors.ErrInvalidInput))
}

func TestCheck_CachesAndInvalidates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	req := Request{Role: RoleUser, Backend: BackendGDrive, Action: ActionRead}

	d, err := f.authz.Check(ctx, req)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Cached)

	d, err = f.authz.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Cached)

	require.NoError(t, f.authz.Grant(ctx, "tester", RoleUser, BackendGDrive, ActionRead))
	assert.Equal(t, 0, f.authz.CachedDecisions())

	d, err = f.authz.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Cached)

	require.NoError(t, f.authz.Revoke(ctx, "tester", RoleUser, BackendGDrive, ActionRead))
	assert.False(t, f.allowed(t, RoleUser, BackendGDrive, ActionRead))
}

func TestCheck_KeyScopesAndBackendsNarrowRole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	d, err := f.authz.Check(ctx, Request{
		Role: RoleAdmin, Backend: BackendIPFS, Action: ActionWrite, Scopes: []string{"read"},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = f.authz.Check(ctx, Request{
		Role: RoleAdmin, Backend: BackendIPFS, Action: ActionWrite, Scopes: []string{"admin"}, Backends: []string{BackendS3},
	})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = f.authz.Check(ctx, Request{
		Role: RoleAdmin, Backend: BackendS3, Action: ActionWrite, Scopes: []string{"write"}, Backends: []string{BackendS3},
	})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_EmitsAuditEvent(t *testing.T) {
	f := setup(t)
	_, err := f.authz.Check(context.Background(), Request{
		Subject: "ak_1", Role: RoleReadonly, Backend: BackendS3, Action: ActionDelete, KeyID: "ak_1", IP: "10.0.0.1",
	})
	require.NoError(t, err)

	events := f.rec.byType(entities.AuditAuthzDecision)
	require.Len(t, events, 1)
	assert.Equal(t, entities.OutcomeDenied, events[0].Outcome)
	assert.Equal(t, "ak_1", events[0].Actor)
	assert.Equal(t, BackendS3, events[0].Backend)
	assert.Equal(t, "10.0.0.1", events[0].IP)
}

func TestGrant_Validation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	assert.True(t, errors.Is(f.authz.Grant(ctx, "t", RoleUser, BackendIPFS, "explode"), derrors.ErrInvalidInput))
	assert.True(t, errors.Is(f.authz.Grant(ctx, "t", "ghost", BackendIPFS, ActionRead), derrors.ErrRoleNotFound))
	assert.True(t, errors.Is(f.authz.Revoke(ctx, "t", RoleUser, BackendGDrive, ActionRead), derrors.ErrNotFound))
}

func TestPermissions(t *testing.T) {
	f := setup(t)
	perms, err := f.authz.Permissions(context.Background(), RoleReadonly)
	require.NoError(t, err)
	assert.Equal(t, []entities.BackendPermission{
		{Role: RoleReadonly, Backend: Wildcard, Action: ActionList},
		{Role: RoleReadonly, Backend: Wildcard, Action: ActionRead},
	}, perms)
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.authz.Revoke(ctx, "t", RoleReadonly, Wildcard, ActionList))
	require.NoError(t, f.authz.SeedDefaults(ctx))

	perms, err := f.authz.Permissions(ctx, RoleReadonly)
	require.NoError(t, err)
	assert.Len(t, perms, 1, "re-seeding must not restore revoked permissions")

	roles, err := f.authz.Roles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 4)
}

func TestPolicyPersistsAcrossEnforcers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.authz.Grant(ctx, "t", RoleUser, BackendGDrive, ActionRead))

	enforcer, err := NewEnforcer(f.db.GetDB())
	require.NoError(t, err)
	ok, err := enforcer.Enforce(RoleUser, BackendGDrive, ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRoleLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.authz.CreateRole(ctx, "t", "Bad Role", "")
	assert.True(t, errors.Is(err, derrors.ErrInvalidInput))

	role, err := f.authz.CreateRole(ctx, "t", "archiver", "cold storage")
	require.NoError(t, err)
	assert.False(t, role.Builtin)

	_, err = f.authz.CreateRole(ctx, "t", "archiver", "")
	assert.True(t, errors.Is(err, derrors.ErrConflict))

	require.NoError(t, f.authz.Grant(ctx, "t", "archiver", BackendFilecoin, ActionWrite))
	assert.True(t, f.allowed(t, "archiver", BackendFilecoin, ActionWrite))

	require.NoError(t, f.authz.AssignRole(ctx, "alice", "archiver"))
	roles, err := f.authz.RolesForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"archiver"}, roles)

	d, err := f.authz.Check(ctx, Request{Subject: "alice", Backend: BackendFilecoin, Action: ActionWrite})
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	err = f.authz.DeleteRole(ctx, "t", "archiver")
	assert.True(t, errors.Is(err, derrors.ErrConflict))

	require.NoError(t, f.authz.UnassignUser(ctx, "alice"))
	require.NoError(t, f.authz.DeleteRole(ctx, "t", "archiver"))
	assert.False(t, f.allowed(t, "archiver", BackendFilecoin, ActionWrite))

	assert.Len(t, f.rec.byType(entities.AuditRoleChanged), 2)
}

func TestDeleteRole_BuiltinForbidden(t *testing.T) {
	f := setup(t)
	err := f.authz.DeleteRole(context.Background(), "t", RoleOperator)
	assert.True(t, errors.Is(err, derrors.ErrForbidden))
}

func TestDeleteRole_HeldByUserConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.authz.CreateRole(ctx, "t", "auditor", "")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, &entities.User{
		ID: "u1", Username: "bob", Role: "auditor", Status: entities.UserStatusActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}, "hash"))

	err = f.authz.DeleteRole(ctx, "t", "auditor")
	assert.True(t, errors.Is(err, derrors.ErrConflict))
}
