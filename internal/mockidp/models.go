package mockidp

import "time"

// User is the identity the provider signs in.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuthCode is a one-time authorization code bound to a PKCE challenge.
type AuthCode struct {
	Code          string
	ClientID      string
	RedirectURI   string
	UserID        string
	Scopes        []string
	Nonce         string
	CodeChallenge string
	ExpiresAt     time.Time
}

// RefreshToken is stored for rotation and revocation.
type RefreshToken struct {
	Token     string
	UserID    string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}
