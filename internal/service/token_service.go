package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/config"
	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
	"github.com/gridhq/gridauth/internal/scope"
)

// Scopes a client may request when minting a token.
var (
	allowedScopes = scope.Set{"user", "user:info"}
	defaultScopes = scope.Set{"user"}
)

// TokenRequest is the parsed grant dispatch input. Exactly one of GrantType
// and ResponseType drives the outcome; with neither set the request inspects
// the current token.
type TokenRequest struct {
	GrantType    string
	ResponseType string
	Code         string
	RefreshToken string
	Scope        scope.Set
}

// CreateTokenParams describes a token mint.
type CreateTokenParams struct {
	UserID int64
	Scopes scope.Set
	// TTL of zero or less means the token never expires on its own.
	TTL         time.Duration
	Refreshable bool
	// WithCode additionally attaches a one-shot authorization code.
	WithCode bool
}

// TokenService owns the token grant state machine. It never authenticates
// callers itself; the current token, when one is required, comes from the
// gate middleware upstream.
type TokenService struct {
	tokens    repository.TokenRepository
	users     repository.UserRepository
	snowflake *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewTokenService wires dependencies.
func NewTokenService(tokens repository.TokenRepository, users repository.UserRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokens:    tokens,
		users:     users,
		snowflake: node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/gridhq/gridauth/internal/service"),
	}
}

// HandleRequest dispatches one grant request.
func (s *TokenService) HandleRequest(ctx context.Context, req TokenRequest, current *domain.AccessToken) (*domain.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "TokenService.HandleRequest")
	defer span.End()

	switch {
	case req.GrantType != "":
		switch req.GrantType {
		case "refresh_token":
			return s.Refresh(ctx, req.RefreshToken, req.Scope)
		case "authorization_code":
			return s.ExchangeCode(ctx, req.Code)
		default:
			return nil, domain.NewOAuthError(domain.ErrCodeUnsupportedGrantType, fmt.Sprintf("Grant type %q is not supported", req.GrantType))
		}

	case req.ResponseType != "":
		if current == nil {
			return nil, domain.NewOAuthError(domain.ErrCodeAccessDenied, "Access denied")
		}
		scopes, err := requestedScopes(req.Scope)
		if err != nil {
			return nil, err
		}
		switch req.ResponseType {
		case "code":
			return s.Create(ctx, CreateTokenParams{
				UserID:      current.UserID,
				Scopes:      scopes,
				TTL:         s.cfg.CodeTokenTTL,
				Refreshable: true,
				WithCode:    true,
			})
		case "token":
			return s.Create(ctx, CreateTokenParams{
				UserID: current.UserID,
				Scopes: scopes,
				TTL:    s.cfg.ImplicitTokenTTL,
			})
		default:
			return nil, domain.NewOAuthError(domain.ErrCodeUnsupportedResponseType, fmt.Sprintf("Response type %q is not supported", req.ResponseType))
		}

	default:
		// Inspection of the current token.
		if current == nil || !scope.Set(current.Scopes).Has("user", "user:info") {
			return nil, domain.NewOAuthError(domain.ErrCodeAccessDenied, "Access denied")
		}
		return current, nil
	}
}

// Refresh atomically consumes the presented refresh token and mints a
// successor. The consumption and the lookup of the old token's user and
// scopes are one storage operation, so concurrent redemptions of the same
// refresh token mint exactly one successor.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string, requested scope.Set) (*domain.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Refresh")
	defer span.End()

	if refreshToken == "" {
		return nil, domain.NewOAuthError(domain.ErrCodeInvalidRequest, "refresh_token is required")
	}

	old, err := s.tokens.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewOAuthError(domain.ErrCodeInvalidRequest, "Invalid refresh token")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	// Scope may only shrink across a refresh. Requested scopes outside the
	// old set are dropped, not rejected.
	scopes := scope.Set(old.Scopes)
	if !requested.Empty() {
		scopes = scopes.Intersect(requested)
	}

	minted, err := s.Create(ctx, CreateTokenParams{
		UserID:      old.UserID,
		Scopes:      scopes,
		TTL:         s.cfg.AccessTokenTTL,
		Refreshable: true,
	})
	if err != nil {
		return nil, err
	}
	s.audit("token.refreshed", "user_id", old.UserID, "token_id", minted.ID)
	return minted, nil
}

// ExchangeCode redeems a one-shot authorization code for its token. The
// claim clears the code atomically, so a replayed code finds nothing.
func (s *TokenService) ExchangeCode(ctx context.Context, code string) (*domain.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "TokenService.ExchangeCode")
	defer span.End()

	if code == "" {
		return nil, domain.NewOAuthError(domain.ErrCodeInvalidRequest, "code is required")
	}

	token, err := s.tokens.ClaimCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewOAuthError(domain.ErrCodeInvalidRequest, "Invalid authorization code")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if token.Expired() {
		return nil, domain.NewOAuthError(domain.ErrCodeTokenExpired, "Token expired")
	}

	token.Code = ""
	s.audit("token.code_exchanged", "user_id", token.UserID, "token_id", token.ID)
	return &token, nil
}

// Create mints and persists a fresh access token.
func (s *TokenService) Create(ctx context.Context, params CreateTokenParams) (*domain.AccessToken, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Create")
	defer span.End()

	token := domain.AccessToken{
		ID:        s.snowflake.Generate().Int64(),
		UserID:    params.UserID,
		TokenType: domain.TokenTypeBearer,
		Token:     randomToken(s.tokenBytes()),
		Scopes:    params.Scopes,
	}
	if params.TTL > 0 {
		expires := time.Now().UTC().Add(params.TTL)
		token.ExpiresAt = &expires
	}
	if params.Refreshable {
		token.RefreshToken = randomToken(s.tokenBytes())
	}
	if params.WithCode {
		token.Code = randomToken(s.tokenBytes())
	}

	created, err := s.tokens.Create(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist token: %w", err)
	}
	s.audit("token.issued", "user_id", created.UserID, "token_id", created.ID)
	return &created, nil
}

// Authenticate resolves a presented bearer value into its token and owner.
func (s *TokenService) Authenticate(ctx context.Context, bearer string) (*domain.AccessToken, *domain.User, error) {
	ctx, span := s.startSpan(ctx, "TokenService.Authenticate")
	defer span.End()

	token, err := s.tokens.GetByToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NewOAuthError(domain.ErrCodeAccessDenied, "Access denied")
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("authenticate: %w", err)
	}
	if token.Expired() {
		return nil, nil, domain.NewOAuthError(domain.ErrCodeTokenExpired, "Token expired")
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domain.NewOAuthError(domain.ErrCodeAccessDenied, "Access denied")
		}
		span.RecordError(err)
		return nil, nil, fmt.Errorf("authenticate load user: %w", err)
	}
	return &token, &user, nil
}

// Revoke deletes the presented token. Revoking a token that is already gone
// is not an error.
func (s *TokenService) Revoke(ctx context.Context, bearer string) error {
	ctx, span := s.startSpan(ctx, "TokenService.Revoke")
	defer span.End()

	if err := s.tokens.DeleteByToken(ctx, bearer); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("revoke token: %w", err)
	}
	s.audit("token.revoked")
	return nil
}

func (s *TokenService) tokenBytes() int {
	if s.cfg.TokenBytes > 0 {
		return s.cfg.TokenBytes
	}
	return 32
}

func requestedScopes(requested scope.Set) (scope.Set, error) {
	if requested.Empty() {
		return defaultScopes, nil
	}
	if !requested.Subset(allowedScopes) {
		return nil, domain.NewOAuthError(domain.ErrCodeInvalidScope, fmt.Sprintf("Invalid scope %q", requested.String()))
	}
	return requested, nil
}

func (s *TokenService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *TokenService) audit(event string, attrs ...any) {
	auditEvent(s.log(), event, attrs...)
}

func (s *TokenService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
