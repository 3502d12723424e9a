package domain

import "time"

// TokenTypeBearer is the only token type the service issues.
const TokenTypeBearer = "bearer"

// AccessToken is an opaque bearer credential persisted by the token service.
// Non-refreshable tokens (implicit grant) carry no refresh token. Tokens
// created for the authorization-code flow additionally carry a one-shot code.
type AccessToken struct {
	ID           int64
	UserID       int64
	TokenType    string
	Token        string
	RefreshToken string
	Code         string
	Scopes       []string
	ExpiresAt    *time.Time
	ConsumedAt   *time.Time
	CreatedAt    time.Time
}

// Used reports whether the refresh token has already been redeemed.
func (t *AccessToken) Used() bool {
	return t.ConsumedAt != nil
}

// Expired reports whether the token can no longer authenticate requests.
// A token is expired once its expiry instant passes or its refresh token
// has been consumed. A nil ExpiresAt means the token never expires on its own.
func (t *AccessToken) Expired() bool {
	if t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now().UTC()) {
		return true
	}
	return t.Used()
}

// ExpiresIn returns the remaining lifetime in whole seconds, or 0 for
// tokens without an expiry.
func (t *AccessToken) ExpiresIn() int64 {
	if t.ExpiresAt == nil {
		return 0
	}
	remaining := time.Until(*t.ExpiresAt)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// AuthorizationRequest binds a pending login to an opaque state nonce.
// The state is persisted only as a salted digest; the plaintext travels in
// the provider redirect and comes back with the callback. UserID is zero
// until a local identity is bound to the request.
type AuthorizationRequest struct {
	ID          int64
	UserID      int64
	StateDigest string
	RedirectURI string
	Scope       string
	CreatedAt   time.Time
	ConsumedAt  *time.Time
}
