package domain

import "time"

// RoleMasterAdmin grants provider administration rights.
const RoleMasterAdmin = "master_admin"

// User is owned by the surrounding identity subsystem; the token service
// reads and updates it only through the reconciliation rules.
type User struct {
	ID         int64
	Name       string
	Email      string
	ExternalID string
	InviteCode string
	MemberOf   []string
	Roles      []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Identity is the normalized profile an identity provider reports for an
// authenticated end user. InviteCode is filled by the bootstrap flow, never
// by the provider.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	MemberOf   []string
	InviteCode string
}
