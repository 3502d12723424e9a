package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/digest"
	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
)

// Authorization requests older than this are invalid even if the sweep has
// not removed them yet.
const authRequestTTL = time.Hour

// BeginAuthParams describes a new pending login.
type BeginAuthParams struct {
	// State is the caller-supplied plaintext nonce; a random one is generated
	// when empty.
	State       string
	RedirectURI string
	Scope       string
	// UserID optionally binds the request to an already-known local user.
	UserID int64
}

// AuthRequestService manages the state handshake between the login redirect
// and the provider callback.
type AuthRequestService struct {
	requests  repository.AuthRequestRepository
	providers *ProviderService
	snowflake *snowflake.Node
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthRequestService wires dependencies.
func NewAuthRequestService(requests repository.AuthRequestRepository, providers *ProviderService, node *snowflake.Node, logger *zap.Logger) *AuthRequestService {
	return &AuthRequestService{
		requests:  requests,
		providers: providers,
		snowflake: node,
		logger:    logger,
		tracer:    otel.Tracer("github.com/gridhq/gridauth/internal/service"),
	}
}

// Begin persists a pending authorization request and returns the plaintext
// state to embed in the provider redirect. Only the salted digest is stored.
func (s *AuthRequestService) Begin(ctx context.Context, params BeginAuthParams) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthRequestService.Begin")
	defer span.End()

	salt, err := s.providers.Salt(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	state := params.State
	if state == "" {
		state = randomToken(16)
	}

	req := domain.AuthorizationRequest{
		ID:          s.snowflake.Generate().Int64(),
		UserID:      params.UserID,
		StateDigest: digest.State(state, salt),
		RedirectURI: params.RedirectURI,
		Scope:       params.Scope,
	}
	if _, err := s.requests.Create(ctx, req); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("begin authorization request: %w", err)
	}

	s.sweep(ctx)
	return state, nil
}

// Complete atomically consumes the request matching the plaintext state.
// Unknown, already-consumed, and stale states all collapse to ErrInvalidState.
func (s *AuthRequestService) Complete(ctx context.Context, state string) (domain.AuthorizationRequest, error) {
	ctx, span := s.startSpan(ctx, "AuthRequestService.Complete")
	defer span.End()

	if state == "" {
		return domain.AuthorizationRequest{}, domain.ErrInvalidState
	}

	salt, err := s.providers.Salt(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.AuthorizationRequest{}, err
	}

	req, err := s.requests.Consume(ctx, digest.State(state, salt))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AuthorizationRequest{}, domain.ErrInvalidState
		}
		span.RecordError(err)
		return domain.AuthorizationRequest{}, fmt.Errorf("complete authorization request: %w", err)
	}
	if time.Since(req.CreatedAt) > authRequestTTL {
		return domain.AuthorizationRequest{}, domain.ErrInvalidState
	}
	return req, nil
}

// sweep opportunistically deletes stale requests. Failures only affect
// storage growth, so they are logged and dropped.
func (s *AuthRequestService) sweep(ctx context.Context) {
	deleted, err := s.requests.DeleteOlderThan(ctx, time.Now().UTC().Add(-authRequestTTL))
	if err != nil {
		s.log().Warn("authorization request sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.log().Debug("swept stale authorization requests", zap.Int64("deleted", deleted))
	}
}

func (s *AuthRequestService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthRequestService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
