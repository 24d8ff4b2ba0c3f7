package protectedapi

import (
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the API reads.
type Claims struct {
	Name  string `json:"name,omitempty"`
	OID   string `json:"oid,omitempty"`
	TID   string `json:"tid,omitempty"`
	Scope string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// HasScope reports whether scope is one of the space-separated scp values.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}
