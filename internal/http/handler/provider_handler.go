package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/http/middleware"
	"github.com/gridhq/gridauth/internal/provider"
	"github.com/gridhq/gridauth/internal/service"
)

// ProviderResponse is the wire shape of the provider configuration. The
// client secret and the digest salt never leave the service.
type ProviderResponse struct {
	Provider     string `json:"provider"`
	ClientID     string `json:"client_id"`
	AuthorizeURL string `json:"authorize_url,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	UserinfoURL  string `json:"userinfo_url,omitempty"`
}

func newProviderResponse(cfg *domain.AuthProvider) ProviderResponse {
	return ProviderResponse{
		Provider:     cfg.Provider,
		ClientID:     cfg.ClientID,
		AuthorizeURL: cfg.AuthorizeURL,
		TokenURL:     cfg.TokenURL,
		UserinfoURL:  cfg.UserinfoURL,
	}
}

// ProviderHandler serves the identity provider admin API.
type ProviderHandler struct {
	Providers *service.ProviderService
	logger    *zap.Logger
}

// NewProviderHandler creates the handler.
func NewProviderHandler(providers *service.ProviderService, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{Providers: providers, logger: logger}
}

// Show serves GET /v1/auth_provider for authenticated callers.
func (h *ProviderHandler) Show(c *gin.Context) {
	if _, ok := middleware.CurrentUser(c); !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrCodeAccessDenied, "error_description": "Access denied"})
		return
	}
	cfg, err := h.Providers.Get(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "No identity provider configured"})
		return
	}
	c.JSON(http.StatusOK, newProviderResponse(cfg))
}

// Save serves PUT and POST /v1/auth_provider. Configuration requires a
// master_admin caller, except the very first one: with no provider and only
// anonymous access possible, the initial configuration call is open.
func (h *ProviderHandler) Save(c *gin.Context) {
	ctx := c.Request.Context()

	existing, err := h.Providers.Get(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	user, authenticated := middleware.CurrentUser(c)
	switch {
	case authenticated && user.HasRole(domain.RoleMasterAdmin):
	case !authenticated && existing == nil:
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrCodeAccessDenied, "error_description": "Access denied"})
		return
	}

	var body struct {
		Provider     string `json:"provider" form:"provider"`
		ClientID     string `json:"client_id" form:"client_id"`
		ClientSecret string `json:"client_secret" form:"client_secret"`
		AuthorizeURL string `json:"authorize_url" form:"authorize_url"`
		TokenURL     string `json:"token_url" form:"token_url"`
		UserinfoURL  string `json:"userinfo_url" form:"userinfo_url"`
	}
	if err := c.ShouldBind(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInvalidRequest, "error_description": "Invalid provider configuration"})
		return
	}
	if body.Provider == "" || body.ClientID == "" || body.ClientSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInvalidRequest, "error_description": "provider, client_id and client_secret are required"})
		return
	}

	saved, err := h.Providers.Save(ctx, domain.AuthProvider{
		Provider:     body.Provider,
		ClientID:     body.ClientID,
		ClientSecret: body.ClientSecret,
		AuthorizeURL: body.AuthorizeURL,
		TokenURL:     body.TokenURL,
		UserinfoURL:  body.UserinfoURL,
	})
	if err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrCodeInvalidRequest, "error_description": "Unknown provider"})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, newProviderResponse(&saved))
}

func (h *ProviderHandler) fail(c *gin.Context, err error) {
	logger := h.logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Warn("auth provider request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": domain.ErrCodeServerError, "error_description": "Server error"})
}
