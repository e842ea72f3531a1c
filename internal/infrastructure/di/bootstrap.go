package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"storage-kit-hub/internal/apikey"
	"storage-kit-hub/internal/application/usecases"
	"storage-kit-hub/internal/authz"
	"storage-kit-hub/internal/domain/entities"
)

const bootstrapKeyName = "bootstrap-admin"

// EnsureAdminKey seeds the built-in roles and, when no API key exists yet,
// creates an admin key. The configured bootstrap key is used when it is well
// formed; otherwise one is generated. The returned key carries its plaintext
// only when it was generated here.
func (c *Container) EnsureAdminKey(ctx context.Context) (*entities.APIKey, error) {
	if err := c.Authorizer.SeedDefaults(ctx); err != nil {
		return nil, fmt.Errorf("seed roles: %w", err)
	}
	n, err := c.APIKeyUC.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}

	in := usecases.CreateAPIKeyInput{
		Name:        bootstrapKeyName,
		Description: "Created on first start",
		Role:        authz.RoleAdmin,
	}
	log := c.Logger.Named("bootstrap")
	if secret := c.Config.Bootstrap.AdminKey; secret != "" {
		if apikey.ValidateAPIKeyFormat(secret) {
			k, err := c.APIKeyUC.CreateWithSecret(ctx, in, secret)
			if err != nil {
				return nil, err
			}
			log.Info("bootstrap admin key installed from configuration", zap.String("key_id", k.ID))
			k.Key = ""
			return k, nil
		}
		log.Warn("configured bootstrap admin key is malformed, generating one instead")
	}
	k, err := c.APIKeyUC.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return k, nil
}
