package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storage-kit-hub/internal/apikey"
	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

// RoleLookup reports whether a role exists; *authz.Authorizer satisfies it.
type RoleLookup interface {
	RoleExists(ctx context.Context, name string) (bool, error)
}

type APIKeyUseCase struct {
	repo  repositories.APIKeyRepository
	users repositories.UserRepository
	roles RoleLookup
	audit authz.AuditRecorder
	now   func() time.Time
}

func NewAPIKeyUseCase(r repositories.APIKeyRepository, users repositories.UserRepository, roles RoleLookup,
	audit authz.AuditRecorder) *APIKeyUseCase {
	return &APIKeyUseCase{repo: r, users: users, roles: roles, audit: audit, now: time.Now}
}

type CreateAPIKeyInput struct {
	Name        string
	Description string
	OwnerID     string
	Role        string
	Scopes      []string
	Backends    []string
	RateLimit   int
	ExpiresAt   *time.Time
}

// DefaultScopes is what a key gets when none are requested.
func DefaultScopes(role string) []string {
	switch role {
	case authz.RoleAdmin:
		return []string{apikey.ScopeAdmin}
	case authz.RoleReadonly:
		return []string{apikey.ScopeRead, apikey.ScopeList}
	default:
		return []string{apikey.ScopeRead, apikey.ScopeList, apikey.ScopeWrite}
	}
}

// Create generates and stores a new API key; the returned entity carries the
// plaintext key, which is never retrievable again.
func (uc *APIKeyUseCase) Create(ctx context.Context, in CreateAPIKeyInput) (*entities.APIKey, error) {
	return uc.create(ctx, in, "")
}

// CreateWithSecret stores a key whose plaintext was chosen by the operator,
// as for the bootstrap admin key. The secret must be well-formed.
func (uc *APIKeyUseCase) CreateWithSecret(ctx context.Context, in CreateAPIKeyInput, plaintext string) (*entities.APIKey, error) {
	if !apikey.ValidateAPIKeyFormat(plaintext) {
		return nil, derrors.ErrInvalidInput.WithMessage("malformed API key")
	}
	return uc.create(ctx, in, plaintext)
}

func (uc *APIKeyUseCase) create(ctx context.Context, in CreateAPIKeyInput, plaintext string) (*entities.APIKey, error) {
	if in.Name == "" {
		return nil, derrors.ErrInvalidInput.WithMessage("name is required")
	}
	if err := uc.validateRole(ctx, in.Role); err != nil {
		return nil, err
	}
	if err := uc.validateOwner(ctx, in.OwnerID); err != nil {
		return nil, err
	}
	if len(in.Scopes) == 0 {
		in.Scopes = DefaultScopes(in.Role)
	}
	if err := validateKeyFields(in.Scopes, in.Backends, in.RateLimit); err != nil {
		return nil, err
	}
	now := uc.now().UTC()
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC()
		if !exp.After(now) {
			return nil, derrors.ErrInvalidInput.WithMessage("expires_at must be in the future")
		}
		in.ExpiresAt = &exp
	}

	fullKey, keyHash := plaintext, apikey.HashAPIKey(plaintext)
	if plaintext == "" {
		var err error
		if fullKey, keyHash, err = apikey.GenerateAPIKey(apikey.DefaultPrefix); err != nil {
			return nil, err
		}
	}
	ent := &entities.APIKey{
		ID:          apikey.GenerateAPIKeyID(),
		Name:        in.Name,
		Description: in.Description,
		Key:         fullKey,
		Prefix:      apikey.ExtractPrefixFromKey(fullKey),
		OwnerID:     in.OwnerID,
		Role:        in.Role,
		Scopes:      in.Scopes,
		Backends:    in.Backends,
		Status:      entities.APIKeyStatusActive,
		RateLimit:   in.RateLimit,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, ent, keyHash); err != nil {
		return nil, err
	}
	uc.record(ctx, entities.AuditAPIKeyCreated, ent.ID, map[string]interface{}{
		"name": ent.Name, "role": ent.Role, "scopes": ent.Scopes,
	})
	return ent, nil
}

func (uc *APIKeyUseCase) validateRole(ctx context.Context, role string) error {
	if role == "" {
		return derrors.ErrInvalidInput.WithMessage("role is required")
	}
	ok, err := uc.roles.RoleExists(ctx, role)
	if err != nil {
		return err
	}
	if !ok {
		return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

// validateOwner accepts an empty owner (service keys) or an active user.
func (uc *APIKeyUseCase) validateOwner(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return nil
	}
	u, err := uc.users.GetByID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, derrors.ErrUserNotFound) {
			return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown owner %q", ownerID))
		}
		return err
	}
	if u.Status != entities.UserStatusActive {
		return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("owner %q is disabled", u.Username))
	}
	return nil
}

func validateKeyFields(scopes, backends []string, rateLimit int) error {
	if !apikey.ValidateScopes(scopes) {
		return derrors.ErrInvalidInput.WithMessage("invalid scopes")
	}
	for _, b := range backends {
		if b != authz.Wildcard && !authz.ValidBackend(b) {
			return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("invalid backend %q", b))
		}
	}
	if rateLimit < 0 {
		return derrors.ErrInvalidInput.WithMessage("rate_limit must not be negative")
	}
	return nil
}

// Get returns the key with its secret masked.
func (uc *APIKeyUseCase) Get(ctx context.Context, id string) (*entities.APIKey, error) {
	k, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	k.Key = maskStored(k)
	return k, nil
}

// List returns keys matching filter with masked key values.
func (uc *APIKeyUseCase) List(ctx context.Context, filter entities.APIKeyFilter) ([]entities.APIKey, error) {
	keys, err := uc.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range keys {
		keys[i].Key = maskStored(&keys[i])
	}
	return keys, nil
}

// only the prefix survives storage, so that is all a masked value can show
func maskStored(k *entities.APIKey) string {
	return k.Prefix + "_****"
}

type APIKeyUpdatePatch struct {
	Name         *string
	Description  *string
	Scopes       *[]string
	Backends     *[]string
	RateLimit    *int
	ExpiresAt    *time.Time
	ClearExpires bool
}

func (uc *APIKeyUseCase) Update(ctx context.Context, id string, patch APIKeyUpdatePatch) (*entities.APIKey, error) {
	if patch.Name != nil && *patch.Name == "" {
		return nil, derrors.ErrInvalidInput.WithMessage("name must not be empty")
	}
	var scopes, backends []string
	rateLimit := 0
	if patch.Scopes != nil {
		if len(*patch.Scopes) == 0 {
			return nil, derrors.ErrInvalidInput.WithMessage("scopes must not be empty")
		}
		scopes = *patch.Scopes
	}
	if patch.Backends != nil {
		backends = *patch.Backends
	}
	if patch.RateLimit != nil {
		rateLimit = *patch.RateLimit
	}
	if err := validateKeyFields(scopes, backends, rateLimit); err != nil {
		return nil, err
	}
	if patch.ExpiresAt != nil && !patch.ClearExpires {
		exp := patch.ExpiresAt.UTC()
		patch.ExpiresAt = &exp
	}

	if err := uc.repo.Update(ctx, id, repositories.APIKeyUpdate{
		Name:         patch.Name,
		Description:  patch.Description,
		Scopes:       patch.Scopes,
		Backends:     patch.Backends,
		RateLimit:    patch.RateLimit,
		ExpiresAt:    patch.ExpiresAt,
		ClearExpires: patch.ClearExpires,
	}); err != nil {
		return nil, err
	}
	uc.record(ctx, entities.AuditAPIKeyUpdated, id, nil)
	return uc.Get(ctx, id)
}

func (uc *APIKeyUseCase) Revoke(ctx context.Context, id string) error {
	if err := uc.repo.UpdateStatus(ctx, id, entities.APIKeyStatusRevoked); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditAPIKeyRevoked, id, nil)
	return nil
}

// Activate re-enables a revoked key. An expired key stays expired.
func (uc *APIKeyUseCase) Activate(ctx context.Context, id string) error {
	k, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if k.IsExpired(uc.now()) {
		return derrors.ErrAPIKeyExpired.WithMessage("cannot activate an expired API key; extend expires_at first")
	}
	if err := uc.repo.UpdateStatus(ctx, id, entities.APIKeyStatusActive); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditAPIKeyActivated, id, nil)
	return nil
}

func (uc *APIKeyUseCase) Delete(ctx context.Context, id string) error {
	if err := uc.repo.Delete(ctx, id); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditAPIKeyDeleted, id, nil)
	return nil
}

// Rotate replaces the secret of an existing key and returns the new plaintext.
func (uc *APIKeyUseCase) Rotate(ctx context.Context, id string) (*entities.APIKey, error) {
	k, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if k.Status == entities.APIKeyStatusRevoked {
		return nil, derrors.ErrAPIKeyRevoked.WithMessage("cannot rotate a revoked API key")
	}
	fullKey, keyHash, err := apikey.GenerateAPIKey(apikey.DefaultPrefix)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.UpdateHash(ctx, id, apikey.DefaultPrefix, keyHash); err != nil {
		return nil, err
	}
	uc.record(ctx, entities.AuditAPIKeyRotated, id, nil)
	k.Key = fullKey
	k.Prefix = apikey.DefaultPrefix
	k.UpdatedAt = uc.now().UTC()
	return k, nil
}

// Authenticate resolves a plaintext key to an active key record. A key found
// past its expiry is flipped to expired on the spot. Keys whose owner is
// missing or disabled are refused.
func (uc *APIKeyUseCase) Authenticate(ctx context.Context, plaintext string) (*entities.APIKey, error) {
	if !apikey.ValidateAPIKeyFormat(plaintext) {
		return nil, derrors.ErrInvalidAPIKey.WithMessage("Invalid API key format")
	}
	k, err := uc.repo.GetByHash(ctx, apikey.HashAPIKey(plaintext))
	if err != nil {
		if errors.Is(err, derrors.ErrAPIKeyNotFound) {
			return nil, derrors.ErrInvalidAPIKey
		}
		return nil, err
	}
	switch k.Status {
	case entities.APIKeyStatusRevoked:
		return nil, derrors.ErrAPIKeyRevoked
	case entities.APIKeyStatusExpired:
		return nil, derrors.ErrAPIKeyExpired
	}
	if k.IsExpired(uc.now()) {
		if err := uc.repo.UpdateStatus(ctx, k.ID, entities.APIKeyStatusExpired); err == nil {
			uc.record(ctx, entities.AuditAPIKeyExpired, k.ID, nil)
		}
		return nil, derrors.ErrAPIKeyExpired
	}
	if k.OwnerID != "" {
		owner, err := uc.users.GetByID(ctx, k.OwnerID)
		switch {
		case errors.Is(err, derrors.ErrUserNotFound):
			return nil, derrors.ErrAPIKeyRevoked.WithMessage("API key owner no longer exists")
		case err != nil:
			return nil, err
		case owner.Status != entities.UserStatusActive:
			return nil, derrors.ErrAPIKeyRevoked.WithMessage("API key owner is disabled")
		}
	}
	return k, nil
}

type UsageRecord struct {
	KeyID      string
	Endpoint   string
	Method     string
	Backend    string
	StatusCode int
	Latency    time.Duration
	IP         string
	UserAgent  string
	At         time.Time
}

func (uc *APIKeyUseCase) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.At.IsZero() {
		rec.At = uc.now()
	}
	return uc.repo.RecordUsage(ctx, &entities.APIKeyUsage{
		APIKeyID:       rec.KeyID,
		Endpoint:       rec.Endpoint,
		Method:         rec.Method,
		Backend:        rec.Backend,
		StatusCode:     rec.StatusCode,
		ResponseTimeMs: rec.Latency.Milliseconds(),
		IPAddress:      rec.IP,
		UserAgent:      rec.UserAgent,
		RequestTime:    rec.At.UTC(),
	})
}

// UsageStats aggregates usage since the given time; a zero since means the last 24h.
func (uc *APIKeyUseCase) UsageStats(ctx context.Context, id string, since time.Time) (*entities.UsageStats, error) {
	if _, err := uc.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if since.IsZero() {
		since = uc.now().Add(-24 * time.Hour)
	}
	return uc.repo.UsageStats(ctx, id, since.UTC())
}

// CleanupExpired marks every active key past its expiry as expired.
func (uc *APIKeyUseCase) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := uc.repo.ExpireBefore(ctx, uc.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		uc.record(ctx, entities.AuditAPIKeyExpired, "", map[string]interface{}{"count": n})
	}
	return n, nil
}

// Count is used at startup to decide whether a bootstrap key is needed.
func (uc *APIKeyUseCase) Count(ctx context.Context) (int64, error) {
	return uc.repo.Count(ctx)
}

func (uc *APIKeyUseCase) record(ctx context.Context, typ, keyID string, details map[string]interface{}) {
	if uc.audit == nil {
		return
	}
	uc.audit.Log(entities.AuditEvent{
		Type:     typ,
		Actor:    auth.ActorFrom(ctx),
		KeyID:    keyID,
		Resource: "api_key",
		Outcome:  entities.OutcomeSuccess,
		Details:  details,
	})
}
