package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gridhq/gridauth/internal/domain"
)

const githubScope = "user:email,read:org"

// GitHub is the gateway for github.com OAuth apps. The redirect target is
// configured on the GitHub application itself, so no redirect_uri parameter
// travels with the authorization request or the exchange.
type GitHub struct {
	clientID     string
	clientSecret string
	webBase      string
	apiBase      string
	httpClient   *http.Client
}

var _ Gateway = (*GitHub)(nil)

// NewGitHub constructs the GitHub gateway.
func NewGitHub(cfg domain.AuthProvider, client *http.Client) *GitHub {
	if client == nil {
		client = NewHTTPClient(false)
	}
	return &GitHub{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webBase:      "https://github.com",
		apiBase:      "https://api.github.com",
		httpClient:   client,
	}
}

// AuthorizationURL builds the github.com authorize redirect.
func (g *GitHub) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("scope", githubScope)
	q.Set("state", state)
	return g.webBase + "/login/oauth/authorize?" + q.Encode()
}

// ExchangeCode redeems the callback code for a provider access token.
func (g *GitHub) ExchangeCode(ctx context.Context, code string) (*Token, error) {
	data := url.Values{}
	data.Set("client_id", g.clientID)
	data.Set("client_secret", g.clientSecret)
	data.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.webBase+"/login/oauth/access_token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
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
		Scope       string `json:"scope"`
		Error       string `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if raw.Error != "" || raw.AccessToken == "" {
		return nil, fmt.Errorf("token exchange error=%q: %w", raw.Error, ErrExchangeFailed)
	}

	return &Token{AccessToken: raw.AccessToken, TokenType: raw.TokenType, Scope: raw.Scope}, nil
}

// FetchUserInfo loads the authenticated user profile plus org memberships.
// Organization listing needs the read:org scope; when the user declined it
// the profile still resolves with an empty membership list.
func (g *GitHub) FetchUserInfo(ctx context.Context, token *Token) (*domain.Identity, error) {
	var profile struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := g.getJSON(ctx, g.apiBase+"/user", token.AccessToken, &profile); err != nil {
		return nil, fmt.Errorf("github user: %w", ErrInfoFailed)
	}

	name := profile.Name
	if name == "" {
		name = profile.Login
	}

	identity := &domain.Identity{
		ExternalID: strconv.FormatInt(profile.ID, 10),
		Email:      profile.Email,
		Name:       name,
		MemberOf:   []string{},
	}

	var orgs []struct {
		Login string `json:"login"`
	}
	if err := g.getJSON(ctx, g.apiBase+"/user/orgs", token.AccessToken, &orgs); err == nil {
		for _, org := range orgs {
			identity.MemberOf = append(identity.MemberOf, org.Login)
		}
	}

	return identity, nil
}

func (g *GitHub) getJSON(ctx context.Context, rawURL, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("github status=%d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}
