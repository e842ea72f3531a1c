package authz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"storage-kit-hub/internal/apikey"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
	"storage-kit-hub/internal/metrics"
)

// Actions a role may hold on a backend.
const (
	ActionRead      = "read"
	ActionWrite     = "write"
	ActionDelete    = "delete"
	ActionList      = "list"
	ActionConfigure = "configure"
	ActionAdmin     = "admin"
)

// Wildcard matches any backend or action in a permission.
const Wildcard = "*"

// Well-known backends. Other names matching backendPattern are accepted too.
const (
	BackendIPFS        = "ipfs"
	BackendIPFSCluster = "ipfs_cluster"
	BackendLotus       = "lotus"
	BackendFilecoin    = "filecoin"
	BackendS3          = "s3"
	BackendHuggingFace = "huggingface"
	BackendStoracha    = "storacha"
	BackendGDrive      = "gdrive"
	BackendLassie      = "lassie"
	BackendSystem      = "system"
)

// Built-in roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleUser     = "user"
	RoleReadonly = "readonly"
)

var (
	actions = map[string]bool{
		ActionRead: true, ActionWrite: true, ActionDelete: true,
		ActionList: true, ActionConfigure: true, ActionAdmin: true,
	}

	KnownBackends = []string{
		BackendIPFS, BackendIPFSCluster, BackendLotus, BackendFilecoin, BackendS3,
		BackendHuggingFace, BackendStoracha, BackendGDrive, BackendLassie, BackendSystem,
	}

	backendPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
	rolePattern    = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,31}$`)
)

type builtinRole struct {
	description string
	perms       []entities.BackendPermission
}

func grants(role string, backends, acts []string) []entities.BackendPermission {
	out := make([]entities.BackendPermission, 0, len(backends)*len(acts))
	for _, b := range backends {
		for _, a := range acts {
			out = append(out, entities.BackendPermission{Role: role, Backend: b, Action: a})
		}
	}
	return out
}

var builtinRoles = map[string]builtinRole{
	RoleAdmin: {
		description: "Full access to every backend",
		perms:       grants(RoleAdmin, []string{Wildcard}, []string{Wildcard}),
	},
	RoleOperator: {
		description: "Operates storage backends",
		perms: append(
			grants(RoleOperator, []string{Wildcard}, []string{ActionRead, ActionWrite, ActionList, ActionDelete}),
			grants(RoleOperator, []string{BackendSystem}, []string{ActionRead, ActionList})...,
		),
	},
	RoleUser: {
		description: "Reads and writes content on storage backends",
		perms: grants(RoleUser,
			[]string{BackendIPFS, BackendIPFSCluster, BackendS3, BackendHuggingFace, BackendStoracha, BackendLotus, BackendFilecoin},
			[]string{ActionRead, ActionWrite, ActionList}),
	},
	RoleReadonly: {
		description: "Read-only access",
		perms:       grants(RoleReadonly, []string{Wildcard}, []string{ActionRead, ActionList}),
	},
}

// IsBuiltinRole reports whether name is one of the seeded roles.
func IsBuiltinRole(name string) bool {
	_, ok := builtinRoles[name]
	return ok
}

// ValidAction reports whether a is a known action.
func ValidAction(a string) bool { return actions[a] }

// ValidBackend reports whether b is a usable backend name.
func ValidBackend(b string) bool { return backendPattern.MatchString(b) }

// AuditRecorder receives audit events; *audit.Logger satisfies it.
type AuditRecorder interface {
	Log(ev entities.AuditEvent)
}

// Request is a single authorization question.
type Request struct {
	Subject   string
	Role      string
	Backend   string
	Action    string
	KeyID     string
	IP        string
	RequestID string
	// Scopes and Backends narrow a key below its role; nil means no narrowing.
	Scopes   []string
	Backends []string
}

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Cached    bool      `json:"cached"`
	CheckedAt time.Time `json:"checked_at"`
}

// Authorizer answers role → (backend, action) questions against the casbin policy.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	roles    repositories.RoleRepository
	users    repositories.UserRepository
	audit    AuditRecorder
	metrics  *metrics.Metrics
	log      *zap.Logger

	// cacheMu orders cache writes against policy mutations; generation is
	// bumped by every mutation so in-flight checks cannot store stale results.
	cacheMu    sync.Mutex
	cache      *gocache.Cache
	generation uint64

	now func() time.Time
}

type Option func(*Authorizer)

func WithAudit(a AuditRecorder) Option { return func(z *Authorizer) { z.audit = a } }

func WithMetrics(m *metrics.Metrics) Option { return func(z *Authorizer) { z.metrics = m } }

func WithLogger(l *zap.Logger) Option { return func(z *Authorizer) { z.log = l } }

func NewAuthorizer(enforcer *casbin.SyncedEnforcer, roles repositories.RoleRepository,
	users repositories.UserRepository, cacheTTL time.Duration, opts ...Option) *Authorizer {
	if cacheTTL <= 0 {
		cacheTTL = gocache.NoExpiration
	}
	z := &Authorizer{
		enforcer: enforcer,
		roles:    roles,
		users:    users,
		cache:    gocache.New(cacheTTL, 2*time.Minute),
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(z)
	}
	return z
}

// SeedDefaults creates the built-in roles and their permission matrix. A role
// that already exists keeps whatever permissions it currently has.
func (z *Authorizer) SeedDefaults(ctx context.Context) error {
	names := make([]string, 0, len(builtinRoles))
	for name := range builtinRoles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := builtinRoles[name]
		_, err := z.roles.Get(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, derrors.ErrRoleNotFound) {
			return err
		}
		if err := z.roles.Create(ctx, &entities.Role{
			Name:        name,
			Description: def.description,
			Builtin:     true,
			CreatedAt:   z.now().UTC(),
		}); err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
		for _, p := range def.perms {
			if _, err := z.enforcer.AddPolicy(p.Role, p.Backend, p.Action); err != nil {
				return fmt.Errorf("seed policy %v: %w", p, err)
			}
		}
		z.log.Info("seeded built-in role", zap.String("role", name), zap.Int("permissions", len(def.perms)))
	}
	z.invalidate()
	return nil
}

// Check decides whether req.Role (or req.Subject through its assigned role)
// may perform req.Action on req.Backend.
func (z *Authorizer) Check(ctx context.Context, req Request) (Decision, error) {
	if req.Backend == "" || !ValidBackend(req.Backend) {
		return Decision{}, derrors.ErrInvalidInput.WithMessage("backend must match [a-z0-9_-]+")
	}
	if !ValidAction(req.Action) {
		return Decision{}, derrors.ErrInvalidInput.WithMessage("unknown action: " + req.Action)
	}
	subject := req.Role
	if subject == "" {
		subject = req.Subject
	}
	if subject == "" {
		return Decision{}, derrors.ErrInvalidInput.WithMessage("role or subject is required")
	}

	var d Decision
	switch {
	case req.Scopes != nil && !apikey.HasScope(req.Scopes, req.Action):
		d = Decision{Allowed: false, Reason: "api key scopes do not include " + req.Action, CheckedAt: z.now().UTC()}
	case req.Backends != nil && !backendAllowed(req.Backends, req.Backend):
		d = Decision{Allowed: false, Reason: "api key is not allowed on backend " + req.Backend, CheckedAt: z.now().UTC()}
	default:
		var err error
		d, err = z.decide(subject, req.Backend, req.Action)
		if err != nil {
			return Decision{}, err
		}
	}

	z.metrics.ObserveDecision(req.Backend, d.Allowed, d.Cached)
	z.record(req, subject, d)
	return d, nil
}

func (z *Authorizer) decide(subject, backend, action string) (Decision, error) {
	key := subject + "|" + backend + "|" + action
	if v, ok := z.cache.Get(key); ok {
		d := v.(Decision)
		d.Cached = true
		return d, nil
	}

	z.cacheMu.Lock()
	gen := z.generation
	z.cacheMu.Unlock()

	allowed, err := z.enforcer.Enforce(subject, backend, action)
	if err != nil {
		return Decision{}, fmt.Errorf("enforce: %w", err)
	}
	d := Decision{Allowed: allowed, CheckedAt: z.now().UTC()}
	if allowed {
		d.Reason = fmt.Sprintf("role %s may %s on %s", subject, action, backend)
	} else {
		d.Reason = fmt.Sprintf("role %s lacks %s on %s", subject, action, backend)
	}

	z.cacheMu.Lock()
	if gen == z.generation {
		z.cache.Set(key, d, gocache.DefaultExpiration)
	}
	z.cacheMu.Unlock()
	return d, nil
}

func (z *Authorizer) record(req Request, subject string, d Decision) {
	if z.audit == nil {
		return
	}
	outcome, severity := entities.OutcomeSuccess, entities.SeverityInfo
	if !d.Allowed {
		outcome, severity = entities.OutcomeDenied, entities.SeverityWarning
	}
	actor := req.Subject
	if actor == "" {
		actor = subject
	}
	z.audit.Log(entities.AuditEvent{
		Type:      entities.AuditAuthzDecision,
		Severity:  severity,
		Actor:     actor,
		KeyID:     req.KeyID,
		Backend:   req.Backend,
		Action:    req.Action,
		Outcome:   outcome,
		IP:        req.IP,
		RequestID: req.RequestID,
		Details: map[string]interface{}{
			"role":   subject,
			"reason": d.Reason,
			"cached": d.Cached,
		},
	})
}

func backendAllowed(list []string, backend string) bool {
	if len(list) == 0 {
		return true
	}
	for _, b := range list {
		if b == Wildcard || b == backend {
			return true
		}
	}
	return false
}

// invalidate drops every cached decision and moves the generation forward.
func (z *Authorizer) invalidate() {
	z.cacheMu.Lock()
	z.generation++
	z.cache.Flush()
	z.cacheMu.Unlock()
}

func validatePermission(backend, action string) error {
	if backend != Wildcard && !ValidBackend(backend) {
		return derrors.ErrInvalidInput.WithMessage("backend must be * or match [a-z0-9_-]+")
	}
	if action != Wildcard && !ValidAction(action) {
		return derrors.ErrInvalidInput.WithMessage("unknown action: " + action)
	}
	return nil
}

// Grant adds (backend, action) to role. Granting an existing permission is a no-op.
func (z *Authorizer) Grant(ctx context.Context, actor, role, backend, action string) error {
	if err := validatePermission(backend, action); err != nil {
		return err
	}
	if _, err := z.roles.Get(ctx, role); err != nil {
		return err
	}
	added, err := z.enforcer.AddPolicy(role, backend, action)
	if err != nil {
		return fmt.Errorf("add policy: %w", err)
	}
	z.invalidate()
	if added {
		z.logChange(entities.AuditPermissionGranted, actor, role, backend, action)
	}
	return nil
}

// Revoke removes (backend, action) from role; ErrNotFound when it was not granted.
func (z *Authorizer) Revoke(ctx context.Context, actor, role, backend, action string) error {
	if err := validatePermission(backend, action); err != nil {
		return err
	}
	removed, err := z.enforcer.RemovePolicy(role, backend, action)
	if err != nil {
		return fmt.Errorf("remove policy: %w", err)
	}
	if !removed {
		return derrors.ErrNotFound.WithMessage("Permission not granted")
	}
	z.invalidate()
	z.logChange(entities.AuditPermissionRevoked, actor, role, backend, action)
	return nil
}

func (z *Authorizer) logChange(typ, actor, role, backend, action string) {
	if z.audit == nil {
		return
	}
	z.audit.Log(entities.AuditEvent{
		Type:     typ,
		Severity: entities.SeverityWarning,
		Actor:    actor,
		Backend:  backend,
		Action:   action,
		Resource: "role:" + role,
		Outcome:  entities.OutcomeSuccess,
	})
}

// Permissions lists the (backend, action) pairs granted directly to role.
func (z *Authorizer) Permissions(ctx context.Context, role string) ([]entities.BackendPermission, error) {
	if _, err := z.roles.Get(ctx, role); err != nil {
		return nil, err
	}
	rules, err := z.enforcer.GetFilteredPolicy(0, role)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	out := make([]entities.BackendPermission, 0, len(rules))
	for _, r := range rules {
		if len(r) < 3 {
			continue
		}
		out = append(out, entities.BackendPermission{Role: r[0], Backend: r[1], Action: r[2]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Backend != out[j].Backend {
			return out[i].Backend < out[j].Backend
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (z *Authorizer) Roles(ctx context.Context) ([]entities.Role, error) {
	return z.roles.List(ctx)
}

// RoleExists reports whether name has a roles row.
func (z *Authorizer) RoleExists(ctx context.Context, name string) (bool, error) {
	_, err := z.roles.Get(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, derrors.ErrRoleNotFound) {
		return false, nil
	}
	return false, err
}

func (z *Authorizer) CreateRole(ctx context.Context, actor, name, description string) (*entities.Role, error) {
	name = strings.TrimSpace(name)
	if !rolePattern.MatchString(name) {
		return nil, derrors.ErrInvalidInput.WithMessage("role name must match [a-z][a-z0-9_-]{1,31}")
	}
	role := &entities.Role{Name: name, Description: description, CreatedAt: z.now().UTC()}
	if err := z.roles.Create(ctx, role); err != nil {
		return nil, err
	}
	if z.audit != nil {
		z.audit.Log(entities.AuditEvent{
			Type:     entities.AuditRoleChanged,
			Severity: entities.SeverityInfo,
			Actor:    actor,
			Resource: "role:" + name,
			Outcome:  entities.OutcomeSuccess,
			Details:  map[string]interface{}{"change": "created"},
		})
	}
	return role, nil
}

// DeleteRole removes a custom role and its permissions. Built-in roles are
// protected and roles still held by users or keys' owners conflict.
func (z *Authorizer) DeleteRole(ctx context.Context, actor, name string) error {
	if IsBuiltinRole(name) {
		return derrors.ErrForbidden.WithMessage("Built-in roles cannot be deleted")
	}
	role, err := z.roles.Get(ctx, name)
	if err != nil {
		return err
	}
	if role.Builtin {
		return derrors.ErrForbidden.WithMessage("Built-in roles cannot be deleted")
	}

	n, err := z.users.CountByRole(ctx, name)
	if err != nil {
		return err
	}
	members, err := z.enforcer.GetUsersForRole(name)
	if err != nil {
		return fmt.Errorf("get role members: %w", err)
	}
	if n > 0 || len(members) > 0 {
		return derrors.ErrConflict.WithMessage("Role is still assigned to users")
	}

	if _, err := z.enforcer.RemoveFilteredPolicy(0, name); err != nil {
		return fmt.Errorf("remove role policies: %w", err)
	}
	if err := z.roles.Delete(ctx, name); err != nil {
		return err
	}
	z.invalidate()

	if z.audit != nil {
		z.audit.Log(entities.AuditEvent{
			Type:     entities.AuditRoleChanged,
			Severity: entities.SeverityWarning,
			Actor:    actor,
			Resource: "role:" + name,
			Outcome:  entities.OutcomeSuccess,
			Details:  map[string]interface{}{"change": "deleted"},
		})
	}
	return nil
}

// AssignRole makes role the only role of user in the grouping policy.
func (z *Authorizer) AssignRole(ctx context.Context, user, role string) error {
	if _, err := z.roles.Get(ctx, role); err != nil {
		return err
	}
	if _, err := z.enforcer.DeleteRolesForUser(user); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	if _, err := z.enforcer.AddGroupingPolicy(user, role); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	z.invalidate()
	return nil
}

// UnassignUser drops every grouping rule for user.
func (z *Authorizer) UnassignUser(ctx context.Context, user string) error {
	if _, err := z.enforcer.DeleteRolesForUser(user); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	z.invalidate()
	return nil
}

func (z *Authorizer) RolesForUser(ctx context.Context, user string) ([]string, error) {
	roles, err := z.enforcer.GetRolesForUser(user)
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	return roles, nil
}

// CachedDecisions is the number of live cache entries.
func (z *Authorizer) CachedDecisions() int {
	return z.cache.ItemCount()
}
