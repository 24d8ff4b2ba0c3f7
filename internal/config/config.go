// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Cache locations supported by the shell's account cache.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Resource maps an outgoing URL pattern to the scopes a token for it must carry.
type Resource struct {
	Pattern string
	Scopes  []string
}

// Shell configures the web shell: identity provider settings, account cache and backend.
type Shell struct {
	Addr     string `env:"AUTHSHELL_ADDR" envDefault:":4200"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	ClientID      string   `env:"AUTHSHELL_CLIENT_ID" envDefault:"<frontend>"`
	ClientSecret  string   `env:"AUTHSHELL_CLIENT_SECRET"`
	Authority     string   `env:"AUTHSHELL_AUTHORITY" envDefault:"https://login.microsoftonline.com/<tenant>"`
	RedirectURI   string   `env:"AUTHSHELL_REDIRECT_URI" envDefault:"http://localhost:4200"`
	Scopes        []string `env:"AUTHSHELL_SCOPES" envSeparator:"," envDefault:"openid,profile,api://<backend>/access_as_user"`
	CacheLocation string   `env:"AUTHSHELL_CACHE_LOCATION" envDefault:"sqlite"`
	SQLiteDSN     string   `env:"AUTHSHELL_SQLITE_DSN" envDefault:"file:authshell.db"`
	RedisURL      string   `env:"AUTHSHELL_REDIS_URL"`
	// StoreAuthStateInCookie is accepted for parity with browser clients; only false is supported.
	StoreAuthStateInCookie bool          `env:"AUTHSHELL_STORE_AUTH_STATE_IN_COOKIE" envDefault:"false"`
	PendingTTL             time.Duration `env:"AUTHSHELL_PENDING_TTL" envDefault:"10m"`
	// SessionTTL drops a session's cached accounts and tokens after this long without a write.
	SessionTTL    time.Duration `env:"AUTHSHELL_SESSION_TTL" envDefault:"720h"`
	PurgeInterval time.Duration `env:"AUTHSHELL_PURGE_INTERVAL" envDefault:"5m"`
	SecureCookies bool          `env:"AUTHSHELL_SECURE_COOKIES" envDefault:"false"`

	BackendURL string `env:"AUTHSHELL_BACKEND_URL" envDefault:"http://localhost:8000/protected"`
	// ProtectedResources entries look like "<pattern>=<scope> <scope>", separated by ';'.
	ProtectedResources []string      `env:"AUTHSHELL_PROTECTED_RESOURCES" envSeparator:";" envDefault:"http://localhost:8000/*=api://<backend>/access_as_user"`
	BackendTimeout     time.Duration `env:"AUTHSHELL_BACKEND_TIMEOUT" envDefault:"0s"`
}

// API configures the protected backend API.
type API struct {
	Addr          string        `env:"AUTHSHELL_API_ADDR" envDefault:":8000"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	Authority     string        `env:"AUTHSHELL_API_AUTHORITY" envDefault:"https://login.microsoftonline.com/<tenant-id>/v2.0"`
	Issuer        string        `env:"AUTHSHELL_API_ISSUER"`
	JWKSURI       string        `env:"AUTHSHELL_API_JWKS_URI"`
	Audience      string        `env:"AUTHSHELL_API_AUDIENCE" envDefault:"api://<client-id>"`
	RequiredScope string        `env:"AUTHSHELL_API_REQUIRED_SCOPE" envDefault:"access_as_user"`
	AllowOrigins  []string      `env:"AUTHSHELL_API_ALLOW_ORIGINS" envSeparator:"," envDefault:"http://localhost:4200"`
	KeysTTL       time.Duration `env:"AUTHSHELL_API_KEYS_TTL" envDefault:"1h"`
	RateLimit     float64       `env:"AUTHSHELL_API_RATE_LIMIT" envDefault:"20"`
	RateBurst     int           `env:"AUTHSHELL_API_RATE_BURST" envDefault:"40"`
}

// MockIDP configures the development identity provider.
type MockIDP struct {
	Addr           string        `env:"AUTHSHELL_IDP_ADDR" envDefault:":9000"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	Issuer         string        `env:"AUTHSHELL_IDP_ISSUER" envDefault:"http://localhost:9000"`
	PrivateKeyPath string        `env:"AUTHSHELL_IDP_PRIVATE_KEY_PATH"`
	ClientID       string        `env:"AUTHSHELL_IDP_CLIENT_ID" envDefault:"<frontend>"`
	RedirectURIs   []string      `env:"AUTHSHELL_IDP_REDIRECT_URIS" envSeparator:"," envDefault:"http://localhost:4200"`
	APIAudience    string        `env:"AUTHSHELL_IDP_API_AUDIENCE" envDefault:"api://<client-id>"`
	TenantID       string        `env:"AUTHSHELL_IDP_TENANT_ID" envDefault:"00000000-0000-0000-0000-000000000000"`
	UserName       string        `env:"AUTHSHELL_IDP_USER_NAME" envDefault:"Jane Doe"`
	UserEmail      string        `env:"AUTHSHELL_IDP_USER_EMAIL" envDefault:"jane.doe@example.com"`
	TokenTTL       time.Duration `env:"AUTHSHELL_IDP_TOKEN_TTL" envDefault:"1h"`
	RefreshTTL     time.Duration `env:"AUTHSHELL_IDP_REFRESH_TTL" envDefault:"720h"`
}

// LoadShell reads Shell from the environment and validates it.
func LoadShell() (Shell, error) {
	var cfg Shell
	if err := parse(&cfg); err != nil {
		return Shell{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Shell{}, err
	}
	return cfg, nil
}

// LoadAPI reads API from the environment and validates it.
func LoadAPI() (API, error) {
	var cfg API
	if err := parse(&cfg); err != nil {
		return API{}, err
	}
	if err := cfg.Validate(); err != nil {
		return API{}, err
	}
	return cfg, nil
}

// LoadMockIDP reads MockIDP from the environment and validates it.
func LoadMockIDP() (MockIDP, error) {
	var cfg MockIDP
	if err := parse(&cfg); err != nil {
		return MockIDP{}, err
	}
	if err := cfg.Validate(); err != nil {
		return MockIDP{}, err
	}
	return cfg, nil
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks the shell configuration for values the gateway cannot work with.
func (c Shell) Validate() error {
	if c.ClientID == "" {
		return errors.New("AUTHSHELL_CLIENT_ID cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.Authority); err != nil {
		return fmt.Errorf("invalid AUTHSHELL_AUTHORITY: %w", err)
	}
	if _, err := url.ParseRequestURI(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid AUTHSHELL_REDIRECT_URI: %w", err)
	}
	if _, err := url.ParseRequestURI(c.BackendURL); err != nil {
		return fmt.Errorf("invalid AUTHSHELL_BACKEND_URL: %w", err)
	}
	if c.StoreAuthStateInCookie {
		return errors.New("AUTHSHELL_STORE_AUTH_STATE_IN_COOKIE is not supported")
	}
	switch c.CacheLocation {
	case CacheMemory, CacheSQLite:
	case CacheRedis:
		if c.RedisURL == "" {
			return errors.New("AUTHSHELL_REDIS_URL is required for the redis cache")
		}
	default:
		return fmt.Errorf("unknown AUTHSHELL_CACHE_LOCATION %q", c.CacheLocation)
	}
	if c.PendingTTL <= 0 {
		return errors.New("AUTHSHELL_PENDING_TTL must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("AUTHSHELL_SESSION_TTL must be positive")
	}
	if c.PurgeInterval <= 0 {
		return errors.New("AUTHSHELL_PURGE_INTERVAL must be positive")
	}
	if _, err := c.Resources(); err != nil {
		return err
	}
	return nil
}

// Resources parses ProtectedResources, keeping configuration order.
func (c Shell) Resources() ([]Resource, error) {
	resources := make([]Resource, 0, len(c.ProtectedResources))
	for _, entry := range c.ProtectedResources {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		i := strings.LastIndex(entry, "=")
		if i <= 0 {
			return nil, fmt.Errorf("invalid protected resource %q: want <pattern>=<scopes>", entry)
		}
		scopes := strings.Fields(entry[i+1:])
		if len(scopes) == 0 {
			return nil, fmt.Errorf("protected resource %q lists no scopes", entry)
		}
		resources = append(resources, Resource{Pattern: strings.TrimSpace(entry[:i]), Scopes: scopes})
	}
	return resources, nil
}

// Validate checks the API configuration.
func (c API) Validate() error {
	if c.Audience == "" {
		return errors.New("AUTHSHELL_API_AUDIENCE cannot be empty")
	}
	if c.RequiredScope == "" {
		return errors.New("AUTHSHELL_API_REQUIRED_SCOPE cannot be empty")
	}
	if c.Authority == "" && c.JWKSURI == "" {
		return errors.New("one of AUTHSHELL_API_AUTHORITY or AUTHSHELL_API_JWKS_URI is required")
	}
	if c.JWKSURI != "" && c.Issuer == "" {
		return errors.New("AUTHSHELL_API_ISSUER is required with AUTHSHELL_API_JWKS_URI")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return errors.New("rate limit and burst must be positive")
	}
	return nil
}

// Validate checks the mock identity provider configuration.
func (c MockIDP) Validate() error {
	if c.Issuer == "" || c.ClientID == "" {
		return errors.New("AUTHSHELL_IDP_ISSUER and AUTHSHELL_IDP_CLIENT_ID cannot be empty")
	}
	if len(c.RedirectURIs) == 0 {
		return errors.New("AUTHSHELL_IDP_REDIRECT_URIS cannot be empty")
	}
	if c.TokenTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}
