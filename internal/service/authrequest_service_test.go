package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/service"
)

func newAuthRequestHarness(t *testing.T) (*service.AuthRequestService, *fakeAuthRequestRepo) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	providerRepo := &fakeProviderRepo{provider: &domain.AuthProvider{
		ID:       1,
		Provider: "github",
		ClientID: "cid",
		Salt:     "test-salt",
	}}
	providers := service.NewProviderService(providerRepo, nil, nil, node, zap.NewNop())
	requests := newFakeAuthRequestRepo()
	return service.NewAuthRequestService(requests, providers, node, zap.NewNop()), requests
}

func TestBeginAndComplete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthRequestHarness(t)

	state, err := svc.Begin(ctx, service.BeginAuthParams{RedirectURI: "https://cli.local/done", Scope: "user"})
	require.NoError(t, err)
	require.NotEmpty(t, state)

	req, err := svc.Complete(ctx, state)
	require.NoError(t, err)
	require.Equal(t, "https://cli.local/done", req.RedirectURI)
	require.Equal(t, "user", req.Scope)
}

func TestCompleteIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthRequestHarness(t)

	state, err := svc.Begin(ctx, service.BeginAuthParams{})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, state)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, state)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCompleteUnknownState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthRequestHarness(t)

	_, err := svc.Complete(ctx, "never-issued")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.Complete(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCompleteStaleState(t *testing.T) {
	ctx := context.Background()
	svc, requests := newAuthRequestHarness(t)

	state, err := svc.Begin(ctx, service.BeginAuthParams{})
	require.NoError(t, err)
	requests.backdate("", 2*time.Hour)

	_, err = svc.Complete(ctx, state)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestBeginKeepsCallerState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthRequestHarness(t)

	state, err := svc.Begin(ctx, service.BeginAuthParams{State: "caller-nonce"})
	require.NoError(t, err)
	require.Equal(t, "caller-nonce", state)

	_, err = svc.Complete(ctx, "caller-nonce")
	require.NoError(t, err)
}

func TestBeginSweepsStaleRequests(t *testing.T) {
	ctx := context.Background()
	svc, requests := newAuthRequestHarness(t)

	_, err := svc.Begin(ctx, service.BeginAuthParams{})
	require.NoError(t, err)
	requests.backdate("", 2*time.Hour)

	state, err := svc.Begin(ctx, service.BeginAuthParams{})
	require.NoError(t, err)

	// Only the fresh request survives the sweep.
	deleted, err := requests.DeleteOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, deleted)

	_, err = svc.Complete(ctx, state)
	require.NoError(t, err)
}

func TestBeginWithoutProvider(t *testing.T) {
	ctx := context.Background()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	providers := service.NewProviderService(&fakeProviderRepo{}, nil, nil, node, zap.NewNop())
	svc := service.NewAuthRequestService(newFakeAuthRequestRepo(), providers, node, zap.NewNop())

	_, err = svc.Begin(ctx, service.BeginAuthParams{})
	require.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}
