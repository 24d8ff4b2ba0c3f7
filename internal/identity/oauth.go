package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"slices"

	"golang.org/x/oauth2"

	"github.com/yourorg/authshell/internal/jwks"
)

// defaultScopes are requested on every sign-in so an ID token and a refresh
// token come back with the authorization code.
var defaultScopes = []string{"openid", "profile", "offline_access"}

func newOAuthConfig(cfg Config, doc jwks.Discovery) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       mergeScopes(defaultScopes, cfg.Scopes),
		Endpoint: oauth2.Endpoint{
			AuthURL:   doc.AuthorizationEndpoint,
			TokenURL:  doc.TokenEndpoint,
			AuthStyle: style,
		},
	}
}

// randomToken returns 32 random bytes, URL-safe encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// mergeScopes returns the union of the scope lists, first occurrence order.
func mergeScopes(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, s := range l {
			if s != "" && !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}

func (g *Gateway) clientContext(ctx context.Context) context.Context {
	if g.cfg.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.cfg.HTTPClient)
}
