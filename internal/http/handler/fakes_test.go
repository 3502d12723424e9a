package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/config"
	"github.com/gridhq/gridauth/internal/domain"
	apphttp "github.com/gridhq/gridauth/internal/http"
	"github.com/gridhq/gridauth/internal/http/handler"
	"github.com/gridhq/gridauth/internal/provider"
	"github.com/gridhq/gridauth/internal/repository"
	"github.com/gridhq/gridauth/internal/service"
)

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[int64]domain.AccessToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[int64]domain.AccessToken)}
}

func (r *memTokenRepo) Create(ctx context.Context, token domain.AccessToken) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token.CreatedAt = time.Now().UTC()
	r.tokens[token.ID] = token
	return token, nil
}

func (r *memTokenRepo) GetByToken(ctx context.Context, value string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.Token == value {
			return token, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *memTokenRepo) GetByRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.RefreshToken == refresh && refresh != "" {
			return token, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *memTokenRepo) ConsumeRefreshToken(ctx context.Context, refresh string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.RefreshToken == refresh && refresh != "" && token.ConsumedAt == nil {
			now := time.Now().UTC()
			token.ConsumedAt = &now
			r.tokens[id] = token
			return token, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *memTokenRepo) ClaimCode(ctx context.Context, code string) (domain.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.Code == code && code != "" {
			token.Code = ""
			r.tokens[id] = token
			return token, nil
		}
	}
	return domain.AccessToken{}, repository.ErrNotFound
}

func (r *memTokenRepo) DeleteByToken(ctx context.Context, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, token := range r.tokens {
		if token.Token == value {
			delete(r.tokens, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memTokenRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

type memUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
	next  int64
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[int64]domain.User), next: 1}
}

func (r *memUserRepo) find(match func(domain.User) bool) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if match(user) {
			return user, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ID == id })
}

func (r *memUserRepo) GetByName(ctx context.Context, name string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Name == name })
}

func (r *memUserRepo) GetByExternalID(ctx context.Context, externalID string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.ExternalID == externalID && externalID != "" })
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.Email == email && email != "" })
}

func (r *memUserRepo) GetByInviteCode(ctx context.Context, code string) (domain.User, error) {
	return r.find(func(u domain.User) bool { return u.InviteCode == code && code != "" })
}

func (r *memUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == 0 {
		user.ID = r.next
		r.next++
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return domain.User{}, repository.ErrNotFound
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *memUserRepo) Count(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

type memAuthRequestRepo struct {
	mu       sync.Mutex
	requests map[string]domain.AuthorizationRequest
}

func newMemAuthRequestRepo() *memAuthRequestRepo {
	return &memAuthRequestRepo{requests: make(map[string]domain.AuthorizationRequest)}
}

func (r *memAuthRequestRepo) Create(ctx context.Context, req domain.AuthorizationRequest) (domain.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req.CreatedAt = time.Now().UTC()
	r.requests[req.StateDigest] = req
	return req, nil
}

func (r *memAuthRequestRepo) Consume(ctx context.Context, stateDigest string) (domain.AuthorizationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[stateDigest]
	if !ok {
		return domain.AuthorizationRequest{}, repository.ErrNotFound
	}
	delete(r.requests, stateDigest)
	return req, nil
}

func (r *memAuthRequestRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
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

type memProviderRepo struct {
	mu  sync.Mutex
	cfg *domain.AuthProvider
}

func (r *memProviderRepo) Get(ctx context.Context) (*domain.AuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg == nil {
		return nil, nil
	}
	copied := *r.cfg
	return &copied, nil
}

func (r *memProviderRepo) Save(ctx context.Context, cfg domain.AuthProvider) (domain.AuthProvider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	r.cfg = &cfg
	return cfg, nil
}

// env holds the full router stack over in-memory repositories.
type env struct {
	cfg          config.Config
	tokens       *memTokenRepo
	users        *memUserRepo
	requests     *memAuthRequestRepo
	providerRepo *memProviderRepo

	tokenSvc    *service.TokenService
	userSvc     *service.UserService
	requestSvc  *service.AuthRequestService
	providerSvc *service.ProviderService

	router *gin.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		HTTPPort:         "9292",
		AccessTokenTTL:   2 * time.Hour,
		CodeTokenTTL:     30 * time.Minute,
		ImplicitTokenTTL: 2 * time.Hour,
		TokenBytes:       32,
		ServiceName:      "gridauth",
	}
	logger := zap.NewNop()

	e := &env{
		cfg:          cfg,
		tokens:       newMemTokenRepo(),
		users:        newMemUserRepo(),
		requests:     newMemAuthRequestRepo(),
		providerRepo: &memProviderRepo{},
	}
	e.providerSvc = service.NewProviderService(e.providerRepo, nil, provider.NewHTTPClient(false), node, logger)
	e.requestSvc = service.NewAuthRequestService(e.requests, e.providerSvc, node, logger)
	e.tokenSvc = service.NewTokenService(e.tokens, e.users, node, cfg, logger)
	e.userSvc = service.NewUserService(e.users, logger)

	e.router = apphttp.NewRouter(
		cfg,
		e.tokenSvc,
		e.requestSvc,
		e.providerSvc,
		handler.NewTokenHandler(e.tokenSvc, logger),
		handler.NewCallbackHandler(e.requestSvc, e.providerSvc, e.tokenSvc, e.userSvc, cfg, logger),
		handler.NewProviderHandler(e.providerSvc, logger),
		nil,
	)
	return e
}

func (e *env) seedProvider(t *testing.T, cfg domain.AuthProvider) {
	t.Helper()
	_, err := e.providerRepo.Save(context.Background(), cfg)
	require.NoError(t, err)
	e.providerSvc.Invalidate(context.Background())
}

func (e *env) seedUser(t *testing.T, user domain.User) domain.User {
	t.Helper()
	created, err := e.users.Create(context.Background(), user)
	require.NoError(t, err)
	return created
}

func (e *env) seedToken(t *testing.T, token domain.AccessToken) domain.AccessToken {
	t.Helper()
	if token.TokenType == "" {
		token.TokenType = domain.TokenTypeBearer
	}
	if token.Scopes == nil {
		token.Scopes = []string{"user"}
	}
	created, err := e.tokens.Create(context.Background(), token)
	require.NoError(t, err)
	return created
}

func (e *env) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func bearer(token domain.AccessToken) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token.Token}
}

// oidcTestServer fakes a provider with token and userinfo endpoints. The
// handed-out access token encodes nothing; userinfo always reports identity.
func oidcTestServer(t *testing.T, identity map[string]any, failExchange bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if failExchange {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "provider-token",
			"token_type":   "bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer provider-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(identity)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testProviderConfig(serverURL string) domain.AuthProvider {
	return domain.AuthProvider{
		ID:           1,
		Provider:     "custom",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Salt:         "handler-test-salt",
		AuthorizeURL: serverURL + "/authorize",
		TokenURL:     serverURL + "/token",
		UserinfoURL:  serverURL + "/userinfo",
	}
}
