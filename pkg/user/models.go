package user

import (
	"time"

	"github.com/google/uuid"
)

// User is the local user entity that SSO logins resolve to. The entity is
// owned by the storage collaborator; this package only reads and writes
// the fields the SSO flow needs.
type User struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	EntraID string    `json:"entra_id"`

	// Role is the attribute-based role assignment
	Role string `json:"role,omitempty"`
	// Roles is the relationship-based role collection for installations
	// that model roles as a separate entity
	Roles []string `json:"roles,omitempty"`

	// EntraGroups is the ordered projection of directory group display
	// names from the last sync
	EntraGroups []string `json:"entra_groups,omitempty"`

	// Attributes holds user attributes populated from mapped custom claims
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	// CustomClaims holds the full custom-claim set when store-all is enabled
	CustomClaims map[string]interface{} `json:"entra_custom_claims,omitempty"`

	// PasswordHash is a bcrypt hash. SSO-provisioned accounts get a random
	// unusable placeholder so local password login stays impossible.
	PasswordHash string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleProvider resolves a user's current role regardless of whether the
// installation stores roles as an attribute or as a relationship. Callers
// depend only on this capability, never on the storage shape.
type RoleProvider interface {
	CurrentRole(u User) string
}

// DefaultRoleProvider resolves the role attribute when present, falls back
// to the first entry of the relationship-based role collection, and
// finally to "user".
type DefaultRoleProvider struct{}

// CurrentRole implements RoleProvider
func (DefaultRoleProvider) CurrentRole(u User) string {
	if u.Role != "" {
		return u.Role
	}
	if len(u.Roles) > 0 {
		return u.Roles[0]
	}
	return "user"
}
