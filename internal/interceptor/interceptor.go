// Package interceptor attaches bearer tokens to outgoing requests whose URL
// matches a protected resource.
package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/yourorg/authshell/internal/config"
)

// Acquirer hands out access tokens without user interaction.
type Acquirer interface {
	AcquireTokenSilent(ctx context.Context, scopes []string) (string, error)
}

type resource struct {
	pattern string
	exact   bool
	re      *regexp.Regexp
	scopes  []string
}

// ResourceMap is an ordered URL pattern to scopes mapping. A '*' in a pattern
// matches any run of characters.
type ResourceMap struct {
	resources []resource
}

// NewResourceMap compiles the configured resources in order.
func NewResourceMap(resources []config.Resource) (*ResourceMap, error) {
	m := &ResourceMap{}
	for _, r := range resources {
		if len(r.Scopes) == 0 {
			return nil, fmt.Errorf("resource %q has no scopes", r.Pattern)
		}
		entry := resource{pattern: r.Pattern, exact: !strings.Contains(r.Pattern, "*"), scopes: r.Scopes}
		if !entry.exact {
			re, err := compileWildcard(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("resource %q: %w", r.Pattern, err)
			}
			entry.re = re
		}
		m.resources = append(m.resources, entry)
	}
	return m, nil
}

func compileWildcard(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// Scopes returns the scopes for target. An exact pattern wins over wildcard
// ones; among wildcards the first configured match wins.
func (m *ResourceMap) Scopes(target string) ([]string, bool) {
	for _, r := range m.resources {
		if r.exact && r.pattern == target {
			return r.scopes, true
		}
	}
	for _, r := range m.resources {
		if !r.exact && r.re.MatchString(target) {
			return r.scopes, true
		}
	}
	return nil, false
}

// Transport is an http.RoundTripper that authorizes requests to protected
// resources with a token from the Acquirer found in the request context.
type Transport struct {
	Base      http.RoundTripper
	Resources *ResourceMap
	Acquirer  func(ctx context.Context) (Acquirer, bool)
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	scopes, ok := t.Resources.Scopes(req.URL.String())
	if !ok {
		return base.RoundTrip(req)
	}

	acq, ok := t.Acquirer(req.Context())
	if !ok {
		return nil, fmt.Errorf("no token source for protected resource %s", req.URL.Redacted())
	}
	token, err := acq.AcquireTokenSilent(req.Context(), scopes)
	if err != nil {
		return nil, err
	}

	authorized := req.Clone(req.Context())
	authorized.Header.Set("Authorization", "Bearer "+token)
	return base.RoundTrip(authorized)
}
