package bootstrap

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/config"
	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
	"github.com/gridhq/gridauth/internal/service"
)

// EnsureAdmin creates the local administrator on an empty user table. The
// account starts without an external identity; the first completed login
// claims it through the bootstrap invite.
func EnsureAdmin(lc fx.Lifecycle, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, users, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, users repository.UserRepository, node *snowflake.Node, logger *zap.Logger) error {
	count, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	admin, err := users.Create(ctx, domain.User{
		ID:       node.Generate().Int64(),
		Name:     service.BootstrapAdminName,
		Roles:    []string{domain.RoleMasterAdmin},
		MemberOf: []string{},
	})
	if err != nil {
		return err
	}
	logger.Info("bootstrap admin user created", zap.Int64("user_id", admin.ID))
	return nil
}

// EnsureAuthProvider seeds the identity provider configuration from
// OAUTH2_PROVIDER_URL when none is stored yet. An already-configured
// provider always wins over the environment.
func EnsureAuthProvider(lc fx.Lifecycle, cfg config.Config, providers *service.ProviderService, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAuthProvider(ctx, cfg, providers, logger)
		},
	})
}

func ensureAuthProvider(ctx context.Context, cfg config.Config, providers *service.ProviderService, logger *zap.Logger) error {
	seed, err := cfg.ParseProviderURL()
	if err != nil {
		return err
	}
	if seed == nil {
		return nil
	}

	existing, err := providers.Get(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	saved, err := providers.Save(ctx, domain.AuthProvider{
		Provider:     seed.Provider,
		ClientID:     seed.ClientID,
		ClientSecret: seed.ClientSecret,
	})
	if err != nil {
		return err
	}
	logger.Info("bootstrap auth provider configured", zap.String("provider", saved.Provider))
	return nil
}
