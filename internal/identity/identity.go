// Package identity is the contract with the auth collaborator. The sync
// core never validates credentials; it only needs to know who the current
// user is and whether they hold the distinguished creator role.
package identity

import "github.com/thiagokf/chatd/internal/config"

// Role distinguishes the one creator account from ordinary fan accounts.
type Role string

const (
	RoleCreator Role = "creator"
	RoleFan     Role = "fan"
)

// Provider supplies the signed-in user's identity.
type Provider interface {
	UserID() string
	Role() Role
}

// Static is a Provider with fixed values, resolved once at startup from the
// auth collaborator (or config, for development).
type Static struct {
	ID       string
	UserRole Role
}

func (s *Static) UserID() string { return s.ID }
func (s *Static) Role() Role     { return s.UserRole }

// FromConfig builds a provider from the config identity section. An unset
// role defaults to fan, the restricted case.
func FromConfig(c config.Identity) *Static {
	role := Role(c.Role)
	if role != RoleCreator {
		role = RoleFan
	}
	return &Static{ID: c.UserID, UserRole: role}
}
