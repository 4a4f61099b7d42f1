package entitlement

import "strings"

// Role is the role claim carried by the caller's token.
type Role string

const (
	RoleVisitor Role = "visitor"
	RoleUser    Role = "user"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
)

// ParseRole maps a claim to a Role. Unknown or empty input is a visitor.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RolePremium, RoleAdmin:
		return r
	}
	return RoleVisitor
}

// Subject is who is asking. UserID is empty for anonymous visitors.
type Subject struct {
	UserID string
	Role   Role
}
