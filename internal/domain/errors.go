package domain

import (
	"errors"
	"fmt"
)

// Symbolic OAuth error codes. Grant logic reports these; the HTTP layer maps
// them to status codes so the services stay protocol-agnostic.
const (
	ErrCodeInvalidRequest          = "invalid_request"
	ErrCodeAccessDenied            = "access_denied"
	ErrCodeTokenExpired            = "token_expired"
	ErrCodeInvalidScope            = "invalid_scope"
	ErrCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrCodeUnsupportedResponseType = "unsupported_response_type"
	ErrCodeExchangeFailed          = "exchange_failed"
	ErrCodeInfoFailed              = "info_failed"
	ErrCodeUserInvalid             = "user_invalid"
	ErrCodeInviteInvalid           = "invite_invalid"
	ErrCodeServerError             = "server_error"
)

var (
	// ErrInvalidState indicates the authorization request state is unknown,
	// already consumed, or older than one hour.
	ErrInvalidState = errors.New("auth: invalid state")
	// ErrProviderNotConfigured signals that no identity provider is set up.
	ErrProviderNotConfigured = errors.New("auth: provider not configured")
	// ErrInvalidScope indicates a requested scope outside the allowed set.
	ErrInvalidScope = errors.New("auth: invalid scope")
	// ErrUserInvalid indicates the provider identity maps to no local user.
	ErrUserInvalid = errors.New("auth: unable to associate user")
	// ErrInviteInvalid indicates the supplied invite code matched nobody.
	ErrInviteInvalid = errors.New("auth: invitation not found")
)

// OAuthError is the structured failure result of the grant state machine.
// It carries a symbolic OAuth code and a human description only; HTTP status
// mapping is the route layer's job.
type OAuthError struct {
	Code        string
	Description string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError builds a structured grant failure.
func NewOAuthError(code, description string) *OAuthError {
	return &OAuthError{Code: code, Description: description}
}
