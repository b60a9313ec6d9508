package config

import (
	"fmt"
	"time"

	"github.com/dcplibrary/entra-sso/pkg/rolemap"
)

// EntraConfig is the immutable configuration for the SSO integration,
// loaded once at startup and validated before any request is served.
// Field names mirror the environment surface.
type EntraConfig struct {
	TenantID     string `env:"ENTRA_TENANT_ID"`
	ClientID     string `env:"ENTRA_CLIENT_ID"`
	ClientSecret string `env:"ENTRA_CLIENT_SECRET"`
	RedirectURI  string `env:"ENTRA_REDIRECT_URI"`

	AutoCreateUsers bool `env:"ENTRA_AUTO_CREATE_USERS" env-default:"true"`

	SyncGroups  bool `env:"ENTRA_SYNC_GROUPS" env-default:"false"`
	SyncOnLogin bool `env:"ENTRA_SYNC_ON_LOGIN" env-default:"true"`

	// GroupRoles is a delimited mapping, e.g.
	// "IT Admins:admin,Developers:developer,Staff:user"
	GroupRoles  string `env:"ENTRA_GROUP_ROLES"`
	DefaultRole string `env:"ENTRA_DEFAULT_ROLE" env-default:"user"`

	EnableTokenRefresh      bool `env:"ENTRA_ENABLE_TOKEN_REFRESH" env-default:"true"`
	RefreshThresholdMinutes int  `env:"ENTRA_REFRESH_THRESHOLD" env-default:"5"`
	LogoutOnRefreshFailure  bool `env:"ENTRA_LOGOUT_ON_REFRESH_FAILURE" env-default:"false"`

	// CustomClaimsMapping maps identity-token custom claims to user
	// attributes, e.g. "jobTitle:job_title,department:department"
	CustomClaimsMapping string `env:"ENTRA_CUSTOM_CLAIMS_MAPPING"`
	StoreCustomClaims   bool   `env:"ENTRA_STORE_CUSTOM_CLAIMS" env-default:"false"`

	RedirectAfterLogin string `env:"ENTRA_REDIRECT_AFTER_LOGIN" env-default:"/entra/dashboard"`
	LoginPath          string `env:"ENTRA_LOGIN_PATH" env-default:"/login"`
}

// Validate checks the required fields are present
func (c EntraConfig) Validate() error {
	if c.TenantID == "" {
		return fmt.Errorf("ENTRA_TENANT_ID is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("ENTRA_CLIENT_ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("ENTRA_CLIENT_SECRET is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("ENTRA_REDIRECT_URI is required")
	}
	if c.RefreshThresholdMinutes <= 0 {
		return fmt.Errorf("ENTRA_REFRESH_THRESHOLD must be positive")
	}
	return nil
}

// RoleMapping builds the immutable group-to-role mapping
func (c EntraConfig) RoleMapping() rolemap.Mapping {
	return rolemap.NewMapping(rolemap.ParseGroupRoles(c.GroupRoles), c.DefaultRole)
}

// ClaimMapping builds the custom-claim to user-attribute mapping
func (c EntraConfig) ClaimMapping() rolemap.ClaimMapping {
	return rolemap.ParseClaimMapping(c.CustomClaimsMapping, c.StoreCustomClaims)
}

// RefreshThreshold returns the refresh threshold as a duration
func (c EntraConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdMinutes) * time.Minute
}

// SessionConfig configures the local session store and its signed cookie
type SessionConfig struct {
	// Secret signs the session cookie; required
	Secret string `env:"SESSION_SECRET"`
	// TTL is the authenticated session lifetime
	TTL time.Duration `env:"SESSION_TTL" env-default:"24h"`
	// PendingTTL bounds how long a login may sit between redirect and
	// callback
	PendingTTL time.Duration `env:"SESSION_PENDING_TTL" env-default:"10m"`
	// CookieSecure marks the session cookie Secure; disable only for
	// local development over plain HTTP
	CookieSecure bool `env:"SESSION_COOKIE_SECURE" env-default:"true"`
}

// Validate checks the session configuration
func (c SessionConfig) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if len(c.Secret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes")
	}
	return nil
}
