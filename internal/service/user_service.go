package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/repository"
)

// BootstrapAdminName is the local administrator created on first start.
const BootstrapAdminName = "admin"

// UserService maps provider identities onto local user records.
type UserService struct {
	users  repository.UserRepository
	logger *zap.Logger
	tracer trace.Tracer
}

// NewUserService wires dependencies.
func NewUserService(users repository.UserRepository, logger *zap.Logger) *UserService {
	return &UserService{
		users:  users,
		logger: logger,
		tracer: otel.Tracer("github.com/gridhq/gridauth/internal/service"),
	}
}

// Reconcile matches a provider identity to a local user: external_id first,
// then email, then invite code. Unmatched identities are rejected; accounts
// are never created from provider data alone. On a match the identity fields
// are copied onto the record, while role assignments are preserved verbatim.
func (s *UserService) Reconcile(ctx context.Context, identity domain.Identity) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "UserService.Reconcile")
	defer span.End()

	if identity.ExternalID == "" {
		return domain.User{}, domain.ErrUserInvalid
	}

	user, err := s.match(ctx, identity)
	if err != nil {
		return domain.User{}, err
	}

	user.ExternalID = identity.ExternalID
	if identity.Email != "" {
		user.Email = identity.Email
	}
	if user.Name == "" {
		user.Name = identity.Name
	}
	user.MemberOf = identity.MemberOf
	if user.MemberOf == nil {
		user.MemberOf = []string{}
	}

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("reconcile user: %w", err)
	}
	auditEvent(s.log(), "user.reconciled", "user_id", updated.ID, "external_id", updated.ExternalID)
	return updated, nil
}

func (s *UserService) match(ctx context.Context, identity domain.Identity) (domain.User, error) {
	user, err := s.users.GetByExternalID(ctx, identity.ExternalID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, fmt.Errorf("match by external id: %w", err)
	}

	if identity.Email != "" {
		user, err = s.users.GetByEmail(ctx, identity.Email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, fmt.Errorf("match by email: %w", err)
		}
	}

	if identity.InviteCode == "" {
		return domain.User{}, domain.ErrUserInvalid
	}
	user, err = s.users.GetByInviteCode(ctx, identity.InviteCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, domain.ErrInviteInvalid
		}
		return domain.User{}, fmt.Errorf("match by invite code: %w", err)
	}
	user.InviteCode = ""
	return user, nil
}

// BootstrapInvite mints an invite code for the local administrator when it
// is still the only user and has never been bound to an external identity.
// The first completed login then claims the admin account through the normal
// invite path. Returns an empty code when bootstrap does not apply.
func (s *UserService) BootstrapInvite(ctx context.Context) (string, error) {
	ctx, span := s.startSpan(ctx, "UserService.BootstrapInvite")
	defer span.End()

	count, err := s.users.Count(ctx)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("bootstrap invite: %w", err)
	}
	if count != 1 {
		return "", nil
	}

	admin, err := s.users.GetByName(ctx, BootstrapAdminName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		span.RecordError(err)
		return "", fmt.Errorf("bootstrap invite: %w", err)
	}
	if admin.ExternalID != "" || !admin.HasRole(domain.RoleMasterAdmin) {
		return "", nil
	}

	admin.InviteCode = uuid.NewString()
	if _, err := s.users.Update(ctx, admin); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("bootstrap invite: %w", err)
	}
	auditEvent(s.log(), "user.bootstrap_invite", "user_id", admin.ID)
	return admin.InviteCode, nil
}

func (s *UserService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *UserService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
