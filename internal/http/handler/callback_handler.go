package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/config"
	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/provider"
	"github.com/gridhq/gridauth/internal/scope"
	"github.com/gridhq/gridauth/internal/service"
)

// CallbackHandler completes the provider leg of the login flow.
type CallbackHandler struct {
	Requests  *service.AuthRequestService
	Providers *service.ProviderService
	Tokens    *service.TokenService
	Users     *service.UserService
	cfg       config.Config
	logger    *zap.Logger
}

// NewCallbackHandler creates the handler.
func NewCallbackHandler(requests *service.AuthRequestService, providers *service.ProviderService, tokens *service.TokenService, users *service.UserService, cfg config.Config, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		Requests:  requests,
		Providers: providers,
		Tokens:    tokens,
		Users:     users,
		cfg:       cfg,
		logger:    logger,
	}
}

// Callback serves GET /cb. The state must match an unconsumed authorization
// request; consuming it is the first step, so a rejected callback leaves no
// side effects behind.
func (h *CallbackHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if providerError := c.Query("error"); providerError != "" {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":             domain.ErrCodeExchangeFailed,
			"error_description": fmt.Sprintf("The identity provider returned an error: %s", providerError),
		})
		return
	}

	request, err := h.Requests.Complete(ctx, c.Query("state"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrProviderNotConfigured) {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInvalidRequest, "error_description": "Invalid state"})
			return
		}
		h.fail(c, err)
		return
	}

	gateway, err := h.Providers.Gateway(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	providerToken, oauthErr := h.providerToken(c, gateway)
	if oauthErr != nil {
		respondOAuthError(c, "", "", "", oauthErr)
		return
	}

	identity, err := gateway.FetchUserInfo(ctx, providerToken)
	if err != nil {
		h.logFailure("callback userinfo failed", err)
		respondOAuthError(c, "", "", "", domain.NewOAuthError(domain.ErrCodeInfoFailed, "Unable to fetch user info from the identity provider"))
		return
	}

	// First completed login claims the bootstrap admin account.
	if invite, err := h.Users.BootstrapInvite(ctx); err == nil && invite != "" {
		identity.InviteCode = invite
	}

	user, err := h.Users.Reconcile(ctx, *identity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserInvalid):
			respondOAuthError(c, "", "", "", domain.NewOAuthError(domain.ErrCodeUserInvalid, "Unable to associate user"))
		case errors.Is(err, domain.ErrInviteInvalid):
			respondOAuthError(c, "", "", "", domain.NewOAuthError(domain.ErrCodeInviteInvalid, "Invitation not found"))
		default:
			h.fail(c, err)
		}
		return
	}

	scopes := scope.Parse(request.Scope)
	if scopes.Empty() {
		scopes = scope.Set{"user"}
	}

	// With a redirect target the client receives a one-shot code to exchange
	// at the token endpoint; otherwise the token is returned directly.
	params := service.CreateTokenParams{
		UserID:      user.ID,
		Scopes:      scopes,
		TTL:         h.cfg.AccessTokenTTL,
		Refreshable: true,
	}
	if request.RedirectURI != "" {
		params.TTL = h.cfg.CodeTokenTTL
		params.WithCode = true
	}
	token, err := h.Tokens.Create(ctx, params)
	if err != nil {
		h.fail(c, err)
		return
	}

	if request.RedirectURI != "" {
		renderToken(c, token, "", request.RedirectURI, "")
		return
	}
	c.JSON(http.StatusCreated, newTokenResponse(token))
}

func (h *CallbackHandler) providerToken(c *gin.Context, gateway provider.Gateway) (*provider.Token, *domain.OAuthError) {
	if code := c.Query("code"); code != "" {
		token, err := gateway.ExchangeCode(c.Request.Context(), code)
		if err != nil {
			h.logFailure("callback code exchange failed", err)
			return nil, domain.NewOAuthError(domain.ErrCodeExchangeFailed, "Unable to exchange code with the identity provider")
		}
		return token, nil
	}
	// Implicit provider flow hands the provider token over directly.
	if accessToken := c.Query("access_token"); accessToken != "" {
		return &provider.Token{AccessToken: accessToken}, nil
	}
	return nil, domain.NewOAuthError(domain.ErrCodeInvalidRequest, "code or access_token is required")
}

func (h *CallbackHandler) fail(c *gin.Context, err error) {
	h.logFailure("callback failed", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": domain.ErrCodeServerError, "error_description": "Server error"})
}

func (h *CallbackHandler) logFailure(msg string, err error) {
	logger := h.logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Warn(msg, zap.Error(err))
}
