package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShell_Defaults(t *testing.T) {
	cfg, err := LoadShell()
	require.NoError(t, err)

	assert.Equal(t, ":4200", cfg.Addr)
	assert.Equal(t, "http://localhost:4200", cfg.RedirectURI)
	assert.Equal(t, []string{"openid", "profile", "api://<backend>/access_as_user"}, cfg.Scopes)
	assert.Equal(t, CacheSQLite, cfg.CacheLocation)
	assert.False(t, cfg.StoreAuthStateInCookie)
	assert.Equal(t, 10*time.Minute, cfg.PendingTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.PurgeInterval)
	assert.Equal(t, "http://localhost:8000/protected", cfg.BackendURL)

	resources, err := cfg.Resources()
	require.NoError(t, err)
	assert.Equal(t, []Resource{{
		Pattern: "http://localhost:8000/*",
		Scopes:  []string{"api://<backend>/access_as_user"},
	}}, resources)
}

func TestLoadShell_Overrides(t *testing.T) {
	t.Setenv("AUTHSHELL_CLIENT_ID", "client-1")
	t.Setenv("AUTHSHELL_SCOPES", "openid,profile,api://b/read")
	t.Setenv("AUTHSHELL_CACHE_LOCATION", "redis")
	t.Setenv("AUTHSHELL_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("AUTHSHELL_PROTECTED_RESOURCES", "http://api.local/v1/*=api://b/read api://b/write; https://graph.example/me=User.Read")

	cfg, err := LoadShell()
	require.NoError(t, err)
	assert.Equal(t, "client-1", cfg.ClientID)
	assert.Equal(t, CacheRedis, cfg.CacheLocation)

	resources, err := cfg.Resources()
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "http://api.local/v1/*", resources[0].Pattern)
	assert.Equal(t, []string{"api://b/read", "api://b/write"}, resources[0].Scopes)
	assert.Equal(t, "https://graph.example/me", resources[1].Pattern)
}

func TestShellValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Shell)
		errContains string
	}{
		{
			name:        "empty client id",
			mutate:      func(c *Shell) { c.ClientID = "" },
			errContains: "AUTHSHELL_CLIENT_ID",
		},
		{
			name:        "relative authority",
			mutate:      func(c *Shell) { c.Authority = "login.example" },
			errContains: "AUTHSHELL_AUTHORITY",
		},
		{
			name:        "auth state in cookie",
			mutate:      func(c *Shell) { c.StoreAuthStateInCookie = true },
			errContains: "not supported",
		},
		{
			name:        "unknown cache",
			mutate:      func(c *Shell) { c.CacheLocation = "sessionStorage" },
			errContains: "unknown AUTHSHELL_CACHE_LOCATION",
		},
		{
			name:        "redis without url",
			mutate:      func(c *Shell) { c.CacheLocation = CacheRedis },
			errContains: "AUTHSHELL_REDIS_URL",
		},
		{
			name:        "resource without scopes",
			mutate:      func(c *Shell) { c.ProtectedResources = []string{"http://x/*="} },
			errContains: "lists no scopes",
		},
		{
			name:        "resource without separator",
			mutate:      func(c *Shell) { c.ProtectedResources = []string{"http://x/*"} },
			errContains: "invalid protected resource",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadShell()
			require.NoError(t, err)
			tt.mutate(&cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestLoadAPI(t *testing.T) {
	t.Setenv("AUTHSHELL_API_AUDIENCE", "api://backend")
	t.Setenv("AUTHSHELL_API_ALLOW_ORIGINS", "http://localhost:4200,https://app.example")

	cfg, err := LoadAPI()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, "api://backend", cfg.Audience)
	assert.Equal(t, "access_as_user", cfg.RequiredScope)
	assert.Equal(t, []string{"http://localhost:4200", "https://app.example"}, cfg.AllowOrigins)
}

func TestAPIValidate_JWKSNeedsIssuer(t *testing.T) {
	t.Setenv("AUTHSHELL_API_JWKS_URI", "https://login.example/keys")

	_, err := LoadAPI()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTHSHELL_API_ISSUER")
}

func TestLoadMockIDP(t *testing.T) {
	cfg, err := LoadMockIDP()
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", cfg.UserName)
	assert.Equal(t, []string{"http://localhost:4200"}, cfg.RedirectURIs)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
}
