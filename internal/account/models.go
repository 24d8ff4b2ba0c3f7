package account

import (
	"slices"
	"time"
)

// Account is a signed-in identity as reported by the identity provider.
// Controllers read it; only the identity gateway writes it.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	LocalAccountID string `json:"local_account_id"`
	TenantID       string `json:"tenant_id"`
	Environment    string `json:"environment"`
	Username       string `json:"username"`
	Name           string `json:"name"`
}

// Token is the cached credential set for one account.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
}

// Covers reports whether the token was granted every scope in scopes.
func (t Token) Covers(scopes []string) bool {
	for _, s := range scopes {
		if !slices.Contains(t.Scopes, s) {
			return false
		}
	}
	return true
}

// Pending is an authorization request waiting for the provider to redirect back.
type Pending struct {
	State     string    `json:"state"`
	Verifier  string    `json:"verifier"`
	Nonce     string    `json:"nonce"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the request is past its deadline at now.
func (p Pending) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
