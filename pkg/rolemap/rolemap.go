// Package rolemap maps externally-asserted directory groups and custom
// claims onto local authorization attributes.
package rolemap

import (
	"strings"

	"github.com/dcplibrary/entra-sso/pkg/entra"
)

// DefaultRole is the fallback role when no mapping entry matches
const DefaultRole = "user"

// Mapping is the immutable group-to-role configuration, loaded once at
// startup. Keys may be group display names or group object IDs.
type Mapping struct {
	GroupRoles  map[string]string
	DefaultRole string
}

// NewMapping builds a Mapping with the given rules and default role.
// An empty defaultRole falls back to "user".
func NewMapping(groupRoles map[string]string, defaultRole string) Mapping {
	if defaultRole == "" {
		defaultRole = DefaultRole
	}
	if groupRoles == nil {
		groupRoles = map[string]string{}
	}
	return Mapping{GroupRoles: groupRoles, DefaultRole: defaultRole}
}

// ParseGroupRoles parses a delimited mapping string of the form
// "IT Admins:admin,Developers:developer". Parts are trimmed; entries
// without a role are dropped.
func ParseGroupRoles(raw string) map[string]string {
	mapping := make(map[string]string)
	if raw == "" {
		return mapping
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		group := strings.TrimSpace(parts[0])
		role := strings.TrimSpace(parts[1])
		if group == "" || role == "" {
			continue
		}
		mapping[group] = role
	}

	return mapping
}

// ResolveRole resolves a single role from group memberships.
//
// Groups are checked in the order the directory returned them; for each
// group the display name is checked before the object ID, and the first
// matching entry wins. With no match the default role is returned. The
// result depends only on group order and mapping contents.
func ResolveRole(groups []entra.Group, mapping Mapping) string {
	for _, group := range groups {
		if role, ok := mapping.GroupRoles[group.DisplayName]; ok {
			return role
		}
		if role, ok := mapping.GroupRoles[group.ID]; ok {
			return role
		}
	}
	return mapping.DefaultRole
}

// GroupNames projects the display names of the given groups, preserving
// order. This projection is what gets persisted onto the user record.
func GroupNames(groups []entra.Group) []string {
	names := make([]string, 0, len(groups))
	for _, group := range groups {
		names = append(names, group.DisplayName)
	}
	return names
}

// ClaimMapping is the custom-claim to user-attribute configuration
type ClaimMapping struct {
	// Attributes maps claim names to user attribute names
	Attributes map[string]string
	// StoreAll retains the full custom-claim set verbatim in addition to
	// the mapped attributes
	StoreAll bool
}

// ParseClaimMapping parses a delimited mapping string of the form
// "department:department,jobTitle:job_title"
func ParseClaimMapping(raw string, storeAll bool) ClaimMapping {
	return ClaimMapping{
		Attributes: ParseGroupRoles(raw),
		StoreAll:   storeAll,
	}
}

// MapCustomClaims copies configured claims into user attributes. Claims
// not named in the configuration are dropped unless StoreAll is set, in
// which case the full custom-claim mapping is additionally returned
// untouched for storage under the dedicated attribute.
func MapCustomClaims(customClaims map[string]interface{}, mapping ClaimMapping) (attrs map[string]interface{}, stored map[string]interface{}) {
	attrs = make(map[string]interface{})
	for claimName, userAttribute := range mapping.Attributes {
		if value, ok := customClaims[claimName]; ok {
			attrs[userAttribute] = value
		}
	}

	if mapping.StoreAll {
		stored = customClaims
	}

	return attrs, stored
}
