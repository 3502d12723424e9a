package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gridhq/gridauth/internal/domain"
)

const (
	currentUserKey  = "currentUser"
	currentTokenKey = "currentAccessToken"
)

// TokenAuthenticator resolves a presented bearer value.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, bearer string) (*domain.AccessToken, *domain.User, error)
}

// LoginURLFunc begins an authorization request for the given caller state
// and returns the provider redirect URL.
type LoginURLFunc func(ctx context.Context, state string) (string, error)

// GateConfig lists paths that bypass the token gate. A trailing '*' matches
// any path with the preceding prefix.
type GateConfig struct {
	// Exclude paths are forwarded unconditionally.
	Exclude []string
	// SoftExclude paths are forwarded anonymously when no credential is
	// presented; a presented credential is still validated.
	SoftExclude []string
}

// TokenAuthentication gates every request on a valid bearer token. Lookups
// are never cached, so a token consumed by a concurrent refresh is rejected
// immediately. Browser clients without a credential are redirected into the
// provider login; API clients get a 403.
func TokenAuthentication(tokens TokenAuthenticator, loginURL LoginURLFunc, cfg GateConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if matchPath(path, cfg.Exclude) {
			c.Next()
			return
		}

		bearer := ExtractBearer(c.Request)
		if bearer == "" {
			if matchPath(path, cfg.SoftExclude) {
				c.Next()
				return
			}
			if wantsHTML(c.Request) && loginURL != nil {
				if target, err := loginURL(c.Request.Context(), c.Query("state")); err == nil {
					c.Redirect(http.StatusFound, target)
					c.Abort()
					return
				}
			}
			abortOAuth(c, http.StatusForbidden, domain.ErrCodeAccessDenied, "Access denied")
			return
		}

		token, user, err := tokens.Authenticate(c.Request.Context(), bearer)
		if err != nil {
			var oauthErr *domain.OAuthError
			if errors.As(err, &oauthErr) {
				status := http.StatusForbidden
				if oauthErr.Code == domain.ErrCodeTokenExpired {
					status = http.StatusUnauthorized
				}
				abortOAuth(c, status, oauthErr.Code, oauthErr.Description)
				return
			}
			abortOAuth(c, http.StatusInternalServerError, domain.ErrCodeServerError, "Server error")
			return
		}

		c.Set(currentTokenKey, token)
		c.Set(currentUserKey, user)
		c.Next()
	}
}

// ExtractBearer pulls the bearer value from the Authorization header. Basic
// credentials are accepted for older clients, with the password field
// carrying the token.
func ExtractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	value := strings.TrimSpace(parts[1])
	switch {
	case strings.EqualFold(parts[0], "Bearer"):
		return value
	case strings.EqualFold(parts[0], "Basic"):
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return ""
		}
		if _, password, found := strings.Cut(string(decoded), ":"); found {
			return password
		}
		return ""
	default:
		return ""
	}
}

// CurrentUser returns the user attached by the gate.
func CurrentUser(c *gin.Context) (*domain.User, bool) {
	value, ok := c.Get(currentUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}

// CurrentAccessToken returns the token attached by the gate.
func CurrentAccessToken(c *gin.Context) (*domain.AccessToken, bool) {
	value, ok := c.Get(currentTokenKey)
	if !ok {
		return nil, false
	}
	token, ok := value.(*domain.AccessToken)
	return token, ok
}

func matchPath(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if prefix, found := strings.CutSuffix(pattern, "*"); found {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func abortOAuth(c *gin.Context, status int, code, description string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": description})
}
