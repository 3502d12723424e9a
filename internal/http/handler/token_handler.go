package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gridhq/gridauth/internal/domain"
	"github.com/gridhq/gridauth/internal/http/middleware"
	"github.com/gridhq/gridauth/internal/scope"
	"github.com/gridhq/gridauth/internal/service"
)

// statusForCode maps symbolic grant error codes to HTTP statuses. The
// services never see HTTP.
var statusForCode = map[string]int{
	domain.ErrCodeInvalidRequest:          http.StatusBadRequest,
	domain.ErrCodeInvalidScope:            http.StatusBadRequest,
	domain.ErrCodeUnsupportedGrantType:    http.StatusBadRequest,
	domain.ErrCodeUnsupportedResponseType: http.StatusBadRequest,
	domain.ErrCodeUserInvalid:             http.StatusBadRequest,
	domain.ErrCodeAccessDenied:            http.StatusForbidden,
	domain.ErrCodeInviteInvalid:           http.StatusForbidden,
	domain.ErrCodeTokenExpired:            http.StatusUnauthorized,
	domain.ErrCodeExchangeFailed:          http.StatusServiceUnavailable,
	domain.ErrCodeInfoFailed:              http.StatusServiceUnavailable,
	domain.ErrCodeServerError:             http.StatusInternalServerError,
}

// TokenResponse is the wire shape of an issued token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Code         string `json:"code,omitempty"`
	Scope        string `json:"scope,omitempty"`
	UserID       int64  `json:"user_id,omitempty"`
}

func newTokenResponse(token *domain.AccessToken) TokenResponse {
	return TokenResponse{
		AccessToken:  token.Token,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn(),
		RefreshToken: token.RefreshToken,
		Code:         token.Code,
		Scope:        scope.Set(token.Scopes).String(),
		UserID:       token.UserID,
	}
}

// TokenHandler serves the grant dispatch endpoints.
type TokenHandler struct {
	Tokens *service.TokenService
	logger *zap.Logger
}

// NewTokenHandler creates the handler.
func NewTokenHandler(tokens *service.TokenService, logger *zap.Logger) *TokenHandler {
	return &TokenHandler{Tokens: tokens, logger: logger}
}

// Handle serves GET /v1/auth (inspect) and POST /v1/auth, POST /v1/token
// (grant dispatch).
func (h *TokenHandler) Handle(c *gin.Context) {
	req, redirectURI, state, err := bindTokenRequest(c)
	if err != nil {
		respondOAuthError(c, redirectURI, state, "", domain.NewOAuthError(domain.ErrCodeInvalidRequest, "Invalid token request"))
		return
	}

	current, _ := middleware.CurrentAccessToken(c)
	token, err := h.Tokens.HandleRequest(c.Request.Context(), req, current)
	if err != nil {
		h.logFailure("token request failed", err)
		respondOAuthError(c, redirectURI, state, req.ResponseType, err)
		return
	}
	renderToken(c, token, req.ResponseType, redirectURI, state)
}

// Logout serves DELETE /v1/auth, revoking the presented token.
func (h *TokenHandler) Logout(c *gin.Context) {
	current, ok := middleware.CurrentAccessToken(c)
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrCodeAccessDenied, "error_description": "Access denied"})
		return
	}
	if err := h.Tokens.Revoke(c.Request.Context(), current.Token); err != nil {
		h.logFailure("logout failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": domain.ErrCodeServerError, "error_description": "Server error"})
		return
	}
	c.Status(http.StatusOK)
}

func (h *TokenHandler) logFailure(msg string, err error) {
	logger := h.logger
	if logger == nil {
		logger = zap.L()
	}
	logger.Warn(msg, zap.Error(err))
}

// bindTokenRequest accepts a JSON body, a form body, or query parameters.
// The scope field may be a comma-separated string or an array.
func bindTokenRequest(c *gin.Context) (service.TokenRequest, string, string, error) {
	if strings.Contains(c.ContentType(), "application/json") {
		var body struct {
			GrantType    string          `json:"grant_type"`
			ResponseType string          `json:"response_type"`
			Code         string          `json:"code"`
			RefreshToken string          `json:"refresh_token"`
			Scope        json.RawMessage `json:"scope"`
			RedirectURI  string          `json:"redirect_uri"`
			State        string          `json:"state"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			return service.TokenRequest{}, "", "", err
		}
		scopes, err := parseScopeField(body.Scope)
		if err != nil {
			return service.TokenRequest{}, body.RedirectURI, body.State, err
		}
		return service.TokenRequest{
			GrantType:    body.GrantType,
			ResponseType: body.ResponseType,
			Code:         body.Code,
			RefreshToken: body.RefreshToken,
			Scope:        scopes,
		}, body.RedirectURI, body.State, nil
	}

	get := func(key string) string {
		if v := c.PostForm(key); v != "" {
			return v
		}
		return c.Query(key)
	}
	return service.TokenRequest{
		GrantType:    get("grant_type"),
		ResponseType: get("response_type"),
		Code:         get("code"),
		RefreshToken: get("refresh_token"),
		Scope:        scope.Parse(get("scope")),
	}, get("redirect_uri"), get("state"), nil
}

func parseScopeField(raw json.RawMessage) (scope.Set, error) {
	if len(raw) == 0 {
		return scope.Set{}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return scope.Parse(asString), nil
	}
	var asList []string
	if err := json.Unmarshal(raw, &asList); err != nil {
		return nil, err
	}
	return scope.FromList(asList), nil
}

// renderToken picks the response mode: JSON for API clients, a redirect
// carrying the token in query (or fragment for implicit grants) when a
// redirect_uri was given, form-encoded body otherwise.
func renderToken(c *gin.Context, token *domain.AccessToken, responseType, redirectURI, state string) {
	if redirectURI != "" {
		params := url.Values{}
		if state != "" {
			params.Set("state", state)
		}
		if token.Code != "" {
			params.Set("code", token.Code)
		} else {
			params.Set("access_token", token.Token)
			params.Set("token_type", token.TokenType)
			if expiresIn := token.ExpiresIn(); expiresIn > 0 {
				params.Set("expires_in", strconv.FormatInt(expiresIn, 10))
			}
		}
		c.Redirect(http.StatusFound, joinRedirect(redirectURI, params, responseType == "token"))
		return
	}

	status := http.StatusCreated
	if c.Request.Method == http.MethodGet {
		status = http.StatusOK
	}
	if acceptsJSON(c.Request) {
		c.JSON(status, newTokenResponse(token))
		return
	}

	body := url.Values{}
	body.Set("access_token", token.Token)
	body.Set("token_type", token.TokenType)
	if token.RefreshToken != "" {
		body.Set("refresh_token", token.RefreshToken)
	}
	if token.Code != "" {
		body.Set("code", token.Code)
	}
	if expiresIn := token.ExpiresIn(); expiresIn > 0 {
		body.Set("expires_in", strconv.FormatInt(expiresIn, 10))
	}
	c.Data(status, "application/x-www-form-urlencoded", []byte(body.Encode()))
}

// respondOAuthError renders a grant failure: a redirect with error fields
// when a redirect_uri was given, a structured body otherwise. Unclassified
// errors fall back to server_error and leak nothing.
func respondOAuthError(c *gin.Context, redirectURI, state, responseType string, err error) {
	code, description := domain.ErrCodeServerError, "Server error"
	var oauthErr *domain.OAuthError
	if errors.As(err, &oauthErr) {
		code, description = oauthErr.Code, oauthErr.Description
	}

	if redirectURI != "" {
		params := url.Values{}
		params.Set("error", code)
		params.Set("error_description", description)
		if state != "" {
			params.Set("state", state)
		}
		c.Redirect(http.StatusFound, joinRedirect(redirectURI, params, responseType == "token"))
		return
	}

	status, ok := statusForCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": code, "error_description": description})
}

func joinRedirect(redirectURI string, params url.Values, fragment bool) string {
	if fragment {
		return redirectURI + "#" + params.Encode()
	}
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + params.Encode()
}

func acceptsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
