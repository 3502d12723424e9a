package domain

import "time"

// AuthProvider is the process-wide identity provider configuration.
// At most one row exists at a time; saving a new configuration supersedes
// the old one. The salt keys the state digest so a database compromise does
// not leak usable state nonces.
//
// AuthorizeURL/TokenURL/UserinfoURL are only consulted by the generic
// OIDC-shaped gateway variant; named variants such as "github" own their
// endpoint shapes.
type AuthProvider struct {
	ID           int64
	Provider     string
	ClientID     string
	ClientSecret string
	Salt         string
	AuthorizeURL string
	TokenURL     string
	UserinfoURL  string
	UpdatedAt    time.Time
}
