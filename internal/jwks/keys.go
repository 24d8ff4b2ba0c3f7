package jwks

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

var ErrUnknownKey = errors.New("no matching signing key")

// minRefresh bounds how often an unknown kid may force a refetch.
var minRefresh = 30 * time.Second

// PublishRSA returns the JWK set document advertising pub under kid.
func PublishRSA(kid string, pub *rsa.PublicKey) (jwkset.JWKSMarshal, error) {
	jwk, err := jwkset.NewJWKFromKey(pub, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: kid,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return jwkset.JWKSMarshal{}, fmt.Errorf("encode key %q: %w", kid, err)
	}
	return jwkset.JWKSMarshal{Keys: []jwkset.JWKMarshal{jwk.Marshal()}}, nil
}

// Cache holds a provider's signing keys. It refetches them every ttl until
// ctx ends, and early when a token names a kid it has not seen.
type Cache struct {
	kf keyfunc.Keyfunc
}

// NewCache fetches the key set at uri once before returning. An unreachable
// provider is not an error: the first token with an unknown kid retries.
func NewCache(ctx context.Context, uri string, client *http.Client, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}
	kf, err := keyfunc.NewDefaultOverrideCtx(ctx, []string{uri}, keyfunc.Override{
		Client:           client,
		HTTPTimeout:      10 * time.Second,
		RateLimitWaitMax: time.Millisecond,
		RefreshErrorHandlerFunc: func(u string) func(context.Context, error) {
			return func(ctx context.Context, err error) {
				slog.WarnContext(ctx, "refresh signing keys", "url", u, "error", err)
			}
		},
		RefreshInterval:   ttl,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(minRefresh), 1),
	})
	if err != nil {
		return nil, fmt.Errorf("signing keys %s: %w", uri, err)
	}
	return &Cache{kf: kf}, nil
}

// Keyfunc adapts the cache to jwt.Parse. Lookup failures wrap ErrUnknownKey.
func (c *Cache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	lookup := c.kf.KeyfuncCtx(ctx)
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		if _, ok := t.Header["kid"].(string); !ok {
			return nil, fmt.Errorf("%w: token has no kid", ErrUnknownKey)
		}
		key, err := lookup(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownKey, err)
		}
		return key, nil
	}
}
