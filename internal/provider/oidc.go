package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/gridhq/gridauth/internal/domain"
)

var idTokenAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.PS256, jose.HS256,
}

// OIDC is the generic gateway for providers configured with explicit
// authorize, token and userinfo endpoints. When no userinfo endpoint is
// configured the profile comes from the id_token claims instead. The
// id_token arrives first-hand over the token endpoint's TLS channel, so its
// claims are read without signature verification.
type OIDC struct {
	clientID     string
	clientSecret string
	authorizeURL string
	tokenURL     string
	userinfoURL  string
	httpClient   *http.Client
}

var _ Gateway = (*OIDC)(nil)

// NewOIDC constructs the generic gateway.
func NewOIDC(cfg domain.AuthProvider, client *http.Client) *OIDC {
	if client == nil {
		client = NewHTTPClient(false)
	}
	return &OIDC{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		authorizeURL: cfg.AuthorizeURL,
		tokenURL:     cfg.TokenURL,
		userinfoURL:  cfg.UserinfoURL,
		httpClient:   client,
	}
}

// AuthorizationURL builds the provider authorize redirect.
func (p *OIDC) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", p.clientID)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	sep := "?"
	if strings.Contains(p.authorizeURL, "?") {
		sep = "&"
	}
	return p.authorizeURL + sep + q.Encode()
}

// ExchangeCode redeems the callback code at the token endpoint.
func (p *OIDC) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("client_id", p.clientID)
	data.Set("client_secret", p.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request: %w", ErrExchangeFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token exchange status=%d: %w", resp.StatusCode, ErrExchangeFailed)
	}

	var raw struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		IDToken     string `json:"id_token"`
		Scope       string `json:"scope"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if raw.AccessToken == "" && raw.IDToken == "" {
		return nil, fmt.Errorf("empty token response: %w", ErrExchangeFailed)
	}

	return &Token{
		AccessToken: raw.AccessToken,
		TokenType:   raw.TokenType,
		IDToken:     raw.IDToken,
		Scope:       raw.Scope,
		ExpiresIn:   raw.ExpiresIn,
	}, nil
}

// FetchUserInfo resolves the end-user profile, preferring the userinfo
// endpoint and falling back to id_token claims.
func (p *OIDC) FetchUserInfo(ctx context.Context, token *Token) (*domain.Identity, error) {
	if p.userinfoURL != "" {
		identity, err := p.fetchUserinfoEndpoint(ctx, token.AccessToken)
		if err != nil {
			return nil, err
		}
		return identity, nil
	}
	if token.IDToken != "" {
		return p.identityFromIDToken(token.IDToken)
	}
	return nil, fmt.Errorf("no userinfo source: %w", ErrInfoFailed)
}

func (p *OIDC) fetchUserinfoEndpoint(ctx context.Context, accessToken string) (*domain.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userinfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", ErrInfoFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read userinfo: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("userinfo status=%d: %w", resp.StatusCode, ErrInfoFailed)
	}

	var claims oidcClaims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return claims.identity(), nil
}

func (p *OIDC) identityFromIDToken(raw string) (*domain.Identity, error) {
	parsed, err := jwt.ParseSigned(raw, idTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("parse id_token: %w", ErrInfoFailed)
	}
	var claims oidcClaims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("read id_token claims: %w", ErrInfoFailed)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("id_token missing sub: %w", ErrInfoFailed)
	}
	return claims.identity(), nil
}

type oidcClaims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Groups  []string `json:"groups"`
}

func (c oidcClaims) identity() *domain.Identity {
	name := c.Name
	if name == "" {
		name = c.Email
	}
	groups := c.Groups
	if groups == nil {
		groups = []string{}
	}
	return &domain.Identity{
		ExternalID: c.Subject,
		Email:      c.Email,
		Name:       name,
		MemberOf:   groups,
	}
}
