package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEntraConfig() EntraConfig {
	return EntraConfig{
		TenantID:                "tenant-123",
		ClientID:                "client-abc",
		ClientSecret:            "secret",
		RedirectURI:             "https://app.example.org/auth/entra/callback",
		RefreshThresholdMinutes: 5,
	}
}

func TestEntraConfigValidate(t *testing.T) {
	require.NoError(t, validEntraConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*EntraConfig)
	}{
		{"missing tenant", func(c *EntraConfig) { c.TenantID = "" }},
		{"missing client id", func(c *EntraConfig) { c.ClientID = "" }},
		{"missing client secret", func(c *EntraConfig) { c.ClientSecret = "" }},
		{"missing redirect uri", func(c *EntraConfig) { c.RedirectURI = "" }},
		{"zero refresh threshold", func(c *EntraConfig) { c.RefreshThresholdMinutes = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validEntraConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEntraConfigRoleMapping(t *testing.T) {
	cfg := validEntraConfig()
	cfg.GroupRoles = "IT Admins:admin,Developers:developer"
	cfg.DefaultRole = "staff"

	mapping := cfg.RoleMapping()
	assert.Equal(t, "admin", mapping.GroupRoles["IT Admins"])
	assert.Equal(t, "developer", mapping.GroupRoles["Developers"])
	assert.Equal(t, "staff", mapping.DefaultRole)
}

func TestEntraConfigClaimMapping(t *testing.T) {
	cfg := validEntraConfig()
	cfg.CustomClaimsMapping = "jobTitle:job_title,department:department"
	cfg.StoreCustomClaims = true

	mapping := cfg.ClaimMapping()
	assert.Equal(t, "job_title", mapping.Attributes["jobTitle"])
	assert.Equal(t, "department", mapping.Attributes["department"])
	assert.True(t, mapping.StoreAll)
}

func TestEntraConfigRefreshThreshold(t *testing.T) {
	cfg := validEntraConfig()
	cfg.RefreshThresholdMinutes = 10
	assert.Equal(t, 10*time.Minute, cfg.RefreshThreshold())
}

func TestSessionConfigValidate(t *testing.T) {
	cfg := SessionConfig{Secret: "this-secret-is-at-least-32-bytes-ok"}
	require.NoError(t, cfg.Validate())

	assert.Error(t, SessionConfig{}.Validate())
	assert.Error(t, SessionConfig{Secret: "too-short"}.Validate())
}
