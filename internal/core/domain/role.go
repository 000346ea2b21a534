package domain

import "slices"

// Account roles. Every registered account holds RoleUser.
const (
	RoleUser    = "user"
	RoleCreator = "creator"
	RoleEditor  = "editor"
	RoleAdmin   = "admin"
)

// KnownRoles lists the roles an account can be granted, least privileged first.
func KnownRoles() []string {
	return []string{RoleUser, RoleCreator, RoleEditor, RoleAdmin}
}

// IsKnownRole reports whether role is one of KnownRoles.
func IsKnownRole(role string) bool {
	return slices.Contains(KnownRoles(), role)
}

// HasRole reports whether the account holds role.
func (a Account) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}
