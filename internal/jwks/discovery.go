// Package jwks fetches OpenID Connect discovery documents and signing keys and
// verifies RS256 tokens against them.
package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Discovery is the subset of the provider's openid-configuration we use.
type Discovery struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	ScopesSupported       []string `json:"scopes_supported,omitempty"`
}

var (
	retryInitialInterval = 200 * time.Millisecond
	retryMaxTries        = uint(3)
)

// DiscoveryURL returns the openid-configuration URL for an authority.
// Microsoft authorities without a version segment are served from /v2.0.
func DiscoveryURL(authority string) string {
	authority = strings.TrimRight(authority, "/")
	if strings.HasSuffix(authority, "/.well-known/openid-configuration") {
		return authority
	}
	if u, err := url.Parse(authority); err == nil && strings.HasPrefix(u.Host, "login.microsoftonline.") &&
		!strings.HasSuffix(u.Path, "/v2.0") {
		authority += "/v2.0"
	}
	return authority + "/.well-known/openid-configuration"
}

// Discover fetches and validates the discovery document for authority.
func Discover(ctx context.Context, client *http.Client, authority string) (Discovery, error) {
	var doc Discovery
	if err := getJSON(ctx, client, DiscoveryURL(authority), &doc); err != nil {
		return Discovery{}, fmt.Errorf("discover %s: %w", authority, err)
	}
	if doc.Issuer == "" || doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return Discovery{}, fmt.Errorf("discover %s: incomplete openid-configuration", authority)
	}
	return doc, nil
}

// getJSON GETs target into v, retrying transport errors and 5xx responses.
func getJSON(ctx context.Context, client *http.Client, target string, v any) error {
	if client == nil {
		client = http.DefaultClient
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("GET %s: %s", target, resp.Status)
		}
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, backoff.Permanent(fmt.Errorf("GET %s: %s", target, resp.Status))
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("decode %s: %w", target, err))
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(retryMaxTries))
	return err
}
