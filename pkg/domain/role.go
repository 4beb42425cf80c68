package domain

import (
	"strings"

	dErrors "replate/pkg/domain-errors"
)

// Role is the closed set of actor roles recognised by the access controller.
// Invariant: the value must be one of the roles below.
//
// Usage: construct via ParseRole at trust boundaries to enforce the allowlist;
// direct casting bypasses validation.
type Role string

const (
	RoleUser       Role = "user"
	RoleRestaurant Role = "restaurant"
	RoleCharity    Role = "charity"
	RoleAdmin      Role = "admin"
)

// validRoles is the single source of truth for valid roles.
var validRoles = map[Role]bool{
	RoleUser:       true,
	RoleRestaurant: true,
	RoleCharity:    true,
	RoleAdmin:      true,
}

// ParseRole constructs a Role from external input, case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role is required")
	}
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

// IsValid reports whether r is one of the supported roles.
func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string {
	return string(r)
}
