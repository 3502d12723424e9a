package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/digest"
	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/provider"
	"github.com/gridhq/gridauth/internal/repository"
)

// ProviderService owns the identity provider configuration singleton. Reads
// go through an in-process copy and the shared Redis cache; every save
// invalidates both so admins see their change on the next request.
type ProviderService struct {
	providers  repository.ProviderRepository
	cache      repository.ProviderCache
	httpClient *http.Client
	snowflake  *snowflake.Node
	logger     *zap.Logger
	tracer     trace.Tracer

	mu      sync.RWMutex
	current *domain.AuthProvider
}

// NewProviderService wires dependencies.
func NewProviderService(providers repository.ProviderRepository, cache repository.ProviderCache, httpClient *http.Client, node *snowflake.Node, logger *zap.Logger) *ProviderService {
	return &ProviderService{
		providers:  providers,
		cache:      cache,
		httpClient: httpClient,
		snowflake:  node,
		logger:     logger,
		tracer:     otel.Tracer("github.com/gridhq/gridauth/internal/service"),
	}
}

// Get returns the configured provider, or nil when none is configured.
func (s *ProviderService) Get(ctx context.Context) (*domain.AuthProvider, error) {
	s.mu.RLock()
	if s.current != nil {
		cached := *s.current
		s.mu.RUnlock()
		return &cached, nil
	}
	s.mu.RUnlock()

	if s.cache != nil {
		cached, err := s.cache.Get(ctx)
		if err != nil {
			s.log().Warn("provider cache read failed", zap.Error(err))
		} else if cached != nil {
			s.remember(cached)
			return cached, nil
		}
	}

	loaded, err := s.providers.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load auth provider: %w", err)
	}
	if loaded == nil {
		return nil, nil
	}

	s.remember(loaded)
	if s.cache != nil {
		if err := s.cache.Set(ctx, *loaded); err != nil {
			s.log().Warn("provider cache write failed", zap.Error(err))
		}
	}
	return loaded, nil
}

// Gateway resolves the outbound gateway for the configured provider.
func (s *ProviderService) Gateway(ctx context.Context) (provider.Gateway, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, domain.ErrProviderNotConfigured
	}
	return provider.New(*cfg, s.httpClient)
}

// Salt returns the digest salt of the configured provider.
func (s *ProviderService) Salt(ctx context.Context) (string, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return "", domain.ErrProviderNotConfigured
	}
	return cfg.Salt, nil
}

// Save validates and persists a new provider configuration, superseding the
// previous one. The existing salt carries over when the caller supplies none
// so pending authorization requests stay redeemable.
func (s *ProviderService) Save(ctx context.Context, cfg domain.AuthProvider) (domain.AuthProvider, error) {
	ctx, span := s.startSpan(ctx, "ProviderService.Save")
	defer span.End()

	if _, err := provider.New(cfg, s.httpClient); err != nil {
		return domain.AuthProvider{}, err
	}

	if cfg.Salt == "" {
		if prior, err := s.Get(ctx); err == nil && prior != nil {
			cfg.Salt = prior.Salt
		}
	}
	if cfg.Salt == "" {
		salt, err := digest.NewSalt()
		if err != nil {
			span.RecordError(err)
			return domain.AuthProvider{}, err
		}
		cfg.Salt = salt
	}
	if cfg.ID == 0 {
		cfg.ID = s.snowflake.Generate().Int64()
	}

	saved, err := s.providers.Save(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		return domain.AuthProvider{}, err
	}

	s.Invalidate(ctx)
	s.audit("auth_provider.saved", "provider", saved.Provider, "client_id", saved.ClientID)
	return saved, nil
}

// Invalidate drops the in-process copy and the shared cache entry.
func (s *ProviderService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.log().Warn("provider cache invalidate failed", zap.Error(err))
		}
	}
}

func (s *ProviderService) remember(cfg *domain.AuthProvider) {
	s.mu.Lock()
	copied := *cfg
	s.current = &copied
	s.mu.Unlock()
}

func (s *ProviderService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *ProviderService) audit(event string, attrs ...any) {
	auditEvent(s.log(), event, attrs...)
}

func (s *ProviderService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func auditEvent(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
