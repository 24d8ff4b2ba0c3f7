package jwks

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks RS256 tokens from one issuer for one audience.
type Verifier struct {
	Keys     *Cache
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verify parses raw into claims, checking signature, expiry, issuer and audience.
// Errors wrap the jwt package sentinels (jwt.ErrTokenExpired, ...) and ErrUnknownKey.
func (v *Verifier) Verify(ctx context.Context, raw string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.Leeway),
	}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	if v.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.Audience))
	}
	_, err := jwt.ParseWithClaims(raw, claims, v.Keys.Keyfunc(ctx), opts...)
	return err
}
