package usecases

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"storage-kit-hub/internal/auth"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
	derrors "storage-kit-hub/internal/domain/errors"
	"storage-kit-hub/internal/domain/repositories"
)

// RoleAssigner keeps the policy store's user grouping in step with users.
type RoleAssigner interface {
	RoleLookup
	AssignRole(ctx context.Context, user, role string) error
	UnassignUser(ctx context.Context, user string) error
}

// TOTPIssuer labels the account in authenticator apps.
const TOTPIssuer = "storage-kit-hub"

// DefaultLoginTTL bounds keys issued by Login when the caller passes none.
const DefaultLoginTTL = 24 * time.Hour

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{2,63}$`)

type UserUseCase struct {
	users repositories.UserRepository
	keys  *APIKeyUseCase
	roles RoleAssigner
	audit authz.AuditRecorder
	now   func() time.Time
}

func NewUserUseCase(users repositories.UserRepository, keys *APIKeyUseCase, roles RoleAssigner, audit authz.AuditRecorder) *UserUseCase {
	return &UserUseCase{users: users, keys: keys, roles: roles, audit: audit, now: time.Now}
}

type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

func (uc *UserUseCase) Create(ctx context.Context, in CreateUserInput) (*entities.User, error) {
	if !usernamePattern.MatchString(in.Username) {
		return nil, derrors.ErrInvalidInput.WithMessage("username must be 3-64 characters of letters, digits, '.', '_' or '-'")
	}
	if len(in.Password) < 8 {
		return nil, derrors.ErrInvalidInput.WithMessage("password must be at least 8 characters")
	}
	if in.Role == "" {
		in.Role = authz.RoleUser
	}
	if err := uc.requireRole(ctx, in.Role); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	u := &entities.User{
		ID:        uuid.NewString(),
		Username:  in.Username,
		Email:     in.Email,
		Role:      in.Role,
		Status:    entities.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.users.Create(ctx, u, hash); err != nil {
		return nil, err
	}
	if err := uc.roles.AssignRole(ctx, u.Username, u.Role); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	uc.record(ctx, entities.AuditUserCreated, u.Username, entities.OutcomeSuccess, map[string]interface{}{"role": u.Role})
	return u, nil
}

func (uc *UserUseCase) requireRole(ctx context.Context, role string) error {
	ok, err := uc.roles.RoleExists(ctx, role)
	if err != nil {
		return err
	}
	if !ok {
		return derrors.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown role %q", role))
	}
	return nil
}

func (uc *UserUseCase) Get(ctx context.Context, username string) (*entities.User, error) {
	return uc.users.GetByUsername(ctx, username)
}

func (uc *UserUseCase) List(ctx context.Context) ([]entities.User, error) {
	return uc.users.List(ctx)
}

// SetRole changes the user's role, refreshes the policy grouping and moves
// every key the user owns to the new role.
func (uc *UserUseCase) SetRole(ctx context.Context, username, role string) error {
	if err := uc.requireRole(ctx, role); err != nil {
		return err
	}
	u, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := uc.users.UpdateRole(ctx, username, role); err != nil {
		return err
	}
	if err := uc.roles.AssignRole(ctx, username, role); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	moved, err := uc.keys.repo.UpdateRoleByOwner(ctx, u.ID, role)
	if err != nil {
		return err
	}
	uc.record(ctx, entities.AuditRoleChanged, username, entities.OutcomeSuccess, map[string]interface{}{
		"from": u.Role, "to": role, "keys_updated": moved,
	})
	return nil
}

// SetStatus enables or disables a user. Disabling revokes the user's keys.
func (uc *UserUseCase) SetStatus(ctx context.Context, username, status string) error {
	if status != entities.UserStatusActive && status != entities.UserStatusDisabled {
		return derrors.ErrInvalidInput.WithMessage("status must be active or disabled")
	}
	u, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := uc.users.UpdateStatus(ctx, username, status); err != nil {
		return err
	}
	var revoked int64
	if status == entities.UserStatusDisabled {
		if revoked, err = uc.keys.repo.RevokeByOwner(ctx, u.ID); err != nil {
			return err
		}
	}
	uc.record(ctx, entities.AuditUserStatusChanged, username, entities.OutcomeSuccess, map[string]interface{}{
		"from": u.Status, "to": status, "revoked_keys": revoked,
	})
	return nil
}

// Delete removes the user, revokes every key it owns and drops its role grouping.
func (uc *UserUseCase) Delete(ctx context.Context, username string) error {
	u, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	revoked, err := uc.keys.repo.RevokeByOwner(ctx, u.ID)
	if err != nil {
		return err
	}
	if err := uc.users.Delete(ctx, username); err != nil {
		return err
	}
	if err := uc.roles.UnassignUser(ctx, username); err != nil {
		return fmt.Errorf("unassign role: %w", err)
	}
	uc.record(ctx, entities.AuditUserDeleted, username, entities.OutcomeSuccess, map[string]interface{}{
		"revoked_keys": revoked,
	})
	return nil
}

// TOTPSetup is a pending secret the user loads into an authenticator app.
type TOTPSetup struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// StartTOTP stores a new pending secret. Login ignores it until EnableTOTP
// confirms a code generated from it.
func (uc *UserUseCase) StartTOTP(ctx context.Context, username string) (*TOTPSetup, error) {
	if _, err := uc.users.GetByUsername(ctx, username); err != nil {
		return nil, err
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate totp: %w", err)
	}
	if err := uc.users.SetTOTP(ctx, username, false, key.Secret()); err != nil {
		return nil, err
	}
	return &TOTPSetup{Secret: key.Secret(), URL: key.URL()}, nil
}

func (uc *UserUseCase) EnableTOTP(ctx context.Context, username, code string) error {
	secret, _, err := uc.users.GetTOTP(ctx, username)
	if err != nil {
		return err
	}
	if secret == "" {
		return derrors.ErrInvalidInput.WithMessage("totp setup has not been started")
	}
	if !totp.Validate(code, secret) {
		return derrors.ErrInvalidInput.WithMessage("invalid one-time code")
	}
	if err := uc.users.SetTOTP(ctx, username, true, secret); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditUserTOTPChanged, username, entities.OutcomeSuccess, map[string]interface{}{"enabled": true})
	return nil
}

func (uc *UserUseCase) DisableTOTP(ctx context.Context, username string) error {
	if err := uc.users.SetTOTP(ctx, username, false, ""); err != nil {
		return err
	}
	uc.record(ctx, entities.AuditUserTOTPChanged, username, entities.OutcomeSuccess, map[string]interface{}{"enabled": false})
	return nil
}

type LoginResult struct {
	User *entities.User   `json:"user"`
	Key  *entities.APIKey `json:"key"`
}

// Login checks the password, and the one-time code when the user has TOTP
// enabled, then issues a short-lived API key owned by the user.
func (uc *UserUseCase) Login(ctx context.Context, username, password, code string, ttl time.Duration) (*LoginResult, error) {
	fail := func() (*LoginResult, error) {
		uc.record(ctx, entities.AuditAuthFailure, username, entities.OutcomeFailure, nil)
		return nil, derrors.ErrUnauthorized.WithMessage("invalid username or password")
	}

	hash, err := uc.users.GetPasswordHash(ctx, username)
	if err != nil {
		if errors.Is(err, derrors.ErrUserNotFound) {
			return fail()
		}
		return nil, err
	}
	if !auth.CheckPassword(hash, password) {
		return fail()
	}
	u, err := uc.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u.Status != entities.UserStatusActive {
		return fail()
	}
	if u.TOTPEnabled {
		secret, _, err := uc.users.GetTOTP(ctx, username)
		if err != nil {
			return nil, err
		}
		if code == "" || !totp.Validate(code, secret) {
			uc.record(ctx, entities.AuditAuthFailure, username, entities.OutcomeFailure, map[string]interface{}{"reason": "otp"})
			return nil, derrors.ErrUnauthorized.WithMessage("a valid one-time code is required")
		}
	}

	if ttl <= 0 {
		ttl = DefaultLoginTTL
	}
	now := uc.now().UTC()
	exp := now.Add(ttl)
	key, err := uc.keys.Create(auth.WithPrincipal(ctx, &auth.Principal{Username: u.Username}), CreateAPIKeyInput{
		Name:      "login:" + u.Username,
		OwnerID:   u.ID,
		Role:      u.Role,
		Scopes:    DefaultScopes(u.Role),
		ExpiresAt: &exp,
	})
	if err != nil {
		return nil, err
	}
	if err := uc.users.TouchLogin(ctx, username, now); err != nil {
		return nil, err
	}
	u.LastLoginAt = &now
	uc.record(ctx, entities.AuditUserLogin, username, entities.OutcomeSuccess, map[string]interface{}{"key_id": key.ID})
	return &LoginResult{User: u, Key: key}, nil
}

func (uc *UserUseCase) record(ctx context.Context, typ, username, outcome string, details map[string]interface{}) {
	if uc.audit == nil {
		return
	}
	ev := entities.AuditEvent{
		Type:     typ,
		Actor:    auth.ActorFrom(ctx),
		Resource: "user:" + username,
		Outcome:  outcome,
		Details:  details,
	}
	if typ == entities.AuditAuthFailure || typ == entities.AuditUserLogin {
		ev.Actor = username
	}
	if outcome == entities.OutcomeFailure {
		ev.Severity = entities.SeverityWarning
	}
	uc.audit.Log(ev)
}
