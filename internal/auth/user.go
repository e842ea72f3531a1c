package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"storage-kit-hub/internal/domain/entities"
)

// SystemActor is recorded as the actor for work not tied to a request.
const SystemActor = "system"

// Principal is the authenticated caller behind a request.
type Principal struct {
	KeyID    string
	OwnerID  string
	Username string
	Role     string
	Scopes   []string
	// Backends restricts the key to a subset of backends; empty means all.
	Backends  []string
	RateLimit int
}

// FromAPIKey builds a principal from an authenticated key.
func FromAPIKey(k *entities.APIKey) *Principal {
	return &Principal{
		KeyID:     k.ID,
		OwnerID:   k.OwnerID,
		Role:      k.Role,
		Scopes:    k.Scopes,
		Backends:  k.Backends,
		RateLimit: k.RateLimit,
	}
}

// Actor is the identity written into audit events.
func (p *Principal) Actor() string {
	switch {
	case p == nil:
		return SystemActor
	case p.Username != "":
		return p.Username
	case p.OwnerID != "":
		return p.OwnerID
	default:
		return "key:" + p.KeyID
	}
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the auth middleware, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ctxKey{}).(*Principal)
	return p
}

// ActorFrom is FromContext(ctx).Actor().
func ActorFrom(ctx context.Context) string {
	return FromContext(ctx).Actor()
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}
