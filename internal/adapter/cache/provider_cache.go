package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
)

const (
	providerKey = "gridauth:auth_provider"
	providerTTL = 5 * time.Minute
)

// RedisProviderCache implements ProviderCache backed by Redis, so every
// process sees a provider configuration change after one explicit invalidate
// instead of waiting out a local cache.
type RedisProviderCache struct {
	client redis.UniversalClient
}

var _ repository.ProviderCache = (*RedisProviderCache)(nil)

// NewRedisProviderCache constructs a Redis-backed provider cache.
func NewRedisProviderCache(client redis.UniversalClient) *RedisProviderCache {
	return &RedisProviderCache{client: client}
}

// Get loads the cached provider configuration. A missing key is a cache
// miss, not an error.
func (c *RedisProviderCache) Get(ctx context.Context) (*domain.AuthProvider, error) {
	bytes, err := c.client.Get(ctx, providerKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load cached provider: %w", err)
	}
	var provider domain.AuthProvider
	if err := json.Unmarshal(bytes, &provider); err != nil {
		return nil, fmt.Errorf("decode cached provider: %w", err)
	}
	return &provider, nil
}

// Set stores the provider configuration with a short TTL.
func (c *RedisProviderCache) Set(ctx context.Context, provider domain.AuthProvider) error {
	payload, err := json.Marshal(provider)
	if err != nil {
		return fmt.Errorf("marshal provider: %w", err)
	}
	if err := c.client.Set(ctx, providerKey, payload, providerTTL).Err(); err != nil {
		return fmt.Errorf("cache provider: %w", err)
	}
	return nil
}

// Invalidate drops the cached configuration.
func (c *RedisProviderCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, providerKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("invalidate cached provider: %w", err)
	}
	return nil
}
