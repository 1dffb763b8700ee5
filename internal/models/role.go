// Package models contains the persisted domain records and the shared error type.
package models

import (
	"math"
	"strings"
)

// Role is an account's privilege level. Roles form a strict total order.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// UnlimitedInvites is the stored quota for accounts that are never limited.
const UnlimitedInvites = math.MaxInt32

// Rank returns the position of r in the privilege order; unknown roles rank 0.
// Every privilege comparison in the application goes through Rank.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleModerator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// AtLeast reports whether r is min or above.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// Above reports whether r strictly outranks other.
func (r Role) Above(other Role) bool {
	return r.Rank() > other.Rank()
}

// InviteQuota is the monthly invite allowance for the role.
func (r Role) InviteQuota() int {
	switch r {
	case RoleAdmin:
		return UnlimitedInvites
	case RoleModerator:
		return 10
	default:
		return 2
	}
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}
