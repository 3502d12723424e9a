package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
)

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[int64]domain.AccessToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[int64]domain.AccessToken)}
}

func (r *fakeTokenRepo) Create(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.CreatedAt = time.Now().UTC()
	r.tokens[token.ID] = token
	return token, nil
}

func (r *fakeTokenRepo) GetByToken(ctx context.Context, value string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.Token == value {
			return t, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *fakeTokenRepo) GetByRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.RefreshToken != "" && t.RefreshToken == refresh {
			return t, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *fakeTokenRepo) ConsumeRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.RefreshToken == refresh && t.ConsumedAt == nil {
			now := time.Now().UTC()
			t.ConsumedAt = &now
			r.tokens[id] = t
			return t, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *fakeTokenRepo) ClaimCode(ctx context.Context, code string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.Code != "" && t.Code == code {
			claimed := t
			t.Code = ""
			r.tokens[id] = t
			return claimed, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *fakeTokenRepo) DeleteByToken(ctx context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.tokens {
		if t.Token == value {
			delete(r.tokens, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[int64]domain.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return domain.User{}, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByName(ctx context.Context, name string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Name == name })
}

func (r *fakeUserRepo) GetByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ExternalID != "" && u.ExternalID == externalID })
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email != "" && u.Email == email })
}

func (r *fakeUserRepo) GetByInviteCode(ctx context.Context, code string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.InviteCode != "" && u.InviteCode == code })
}

func (r *fakeUserRepo) find(match func(domain.User) bool) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if match(u) {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (r *fakeUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.CreatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return domain.User{}, repository.ErrNotFound
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *fakeUserRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

type fakeAuthRequestRepo struct {
	mu       sync.Mutex
	requests map[string]domain.AuthorizationRequest
}

func newFakeAuthRequestRepo() *fakeAuthRequestRepo {
	return &fakeAuthRequestRepo{requests: make(map[string]domain.AuthorizationRequest)}
}

func (r *fakeAuthRequestRepo) Create(ctx context.Context, req domain.AuthorizationRequest) (domain.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	r.requests[req.StateDigest] = req
	return req, nil
}

func (r *fakeAuthRequestRepo) Consume(ctx context.Context, stateDigest string) (domain.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[stateDigest]
	if !ok || req.ConsumedAt != nil {
		return domain.AuthorizationRequest{}, repository.ErrNotFound
	}
	now := time.Now().UTC()
	req.ConsumedAt = &now
	r.requests[stateDigest] = req
	return req, nil
}

func (r *fakeAuthRequestRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for digest, req := range r.requests {
		if req.CreatedAt.Before(cutoff) {
			delete(r.requests, digest)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeAuthRequestRepo) backdate(stateDigest string, age time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for digest, req := range r.requests {
		if digest == stateDigest || stateDigest == "" {
			req.CreatedAt = time.Now().UTC().Add(-age)
			r.requests[digest] = req
		}
	}
}

type fakeProviderRepo struct {
	mu       sync.Mutex
	provider *domain.AuthProvider
	saves    int
}

func (r *fakeProviderRepo) Get(ctx context.Context) (*domain.AuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.provider == nil {
		return nil, nil
	}
	copied := *r.provider
	return &copied, nil
}

func (r *fakeProviderRepo) Save(ctx context.Context, provider domain.AuthProvider) (domain.AuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	provider.UpdatedAt = time.Now().UTC()
	r.provider = &provider
	r.saves++
	return provider, nil
}

type fakeProviderCache struct {
	mu          sync.Mutex
	provider    *domain.AuthProvider
	invalidates int
}

func (c *fakeProviderCache) Get(ctx context.Context) (*domain.AuthProvider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.provider == nil {
		return nil, nil
	}
	copied := *c.provider
	return &copied, nil
}

func (c *fakeProviderCache) Set(ctx context.Context, provider domain.AuthProvider) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = &provider
	return nil
}

func (c *fakeProviderCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = nil
	c.invalidates++
	return nil
}
