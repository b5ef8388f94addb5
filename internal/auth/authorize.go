package auth

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleTeam   Role = "team"
	RoleClient Role = "client"
)

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleTeam, RoleClient:
		return r, true
	default:
		return "", false
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeam, RoleClient:
		return true
	}
	return false
}

func (r Role) String() string { return string(r) }

// RoleSet is an allow-list of roles.
type RoleSet []Role

var (
	AdminOnly   = RoleSet{RoleAdmin}
	AdminOrTeam = RoleSet{RoleAdmin, RoleTeam}
)

// Allows reports whether role is in the set.
func (s RoleSet) Allows(role Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize returns ErrForbidden unless the principal's role is allowed.
func Authorize(p Principal, allowed RoleSet) error {
	if !allowed.Allows(p.Role) {
		return fmt.Errorf("%w: role %q", ErrForbidden, p.Role)
	}
	return nil
}
