package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gridhq/gridauth/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row. Conditional updates
// (refresh consumption, code claims, state consumption) also return it when
// the row exists but was already claimed by a concurrent request.
var ErrNotFound = errors.New("repository: not found")

// TokenRepository persists opaque access tokens.
type TokenRepository interface {
	Create(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error)
	GetByToken(ctx context.Context, token string) (domain.AccessToken, error)
	GetByRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error)
	// ConsumeRefreshToken marks the matching unconsumed token as consumed and
	// returns it. Exactly one concurrent caller wins; the rest get ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error)
	// ClaimCode atomically clears the one-shot authorization code and returns
	// the owning token. A second claim for the same code gets ErrNotFound.
	ClaimCode(ctx context.Context, code string) (domain.AccessToken, error)
	DeleteByToken(ctx context.Context, token string) error
}

// AuthRequestRepository persists pending authorization requests.
type AuthRequestRepository interface {
	Create(ctx context.Context, req domain.AuthorizationRequest) (domain.AuthorizationRequest, error)
	// Consume invalidates the request matching the state digest and returns
	// it. Replayed states get ErrNotFound.
	Consume(ctx context.Context, stateDigest string) (domain.AuthorizationRequest, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProviderRepository stores the singleton identity provider configuration.
type ProviderRepository interface {
	Get(ctx context.Context) (*domain.AuthProvider, error)
	// Save replaces any existing configuration with the given one.
	Save(ctx context.Context, provider domain.AuthProvider) (domain.AuthProvider, error)
}

// ProviderCache is a read-through cache in front of ProviderRepository.
// Get returning (nil, nil) means a cache miss.
type ProviderCache interface {
	Get(ctx context.Context) (*domain.AuthProvider, error)
	Set(ctx context.Context, provider domain.AuthProvider) error
	Invalidate(ctx context.Context) error
}

// UserRepository exposes persistence for platform users.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByName(ctx context.Context, name string) (domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByInviteCode(ctx context.Context, code string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
	Count(ctx context.Context) (int64, error)
}
