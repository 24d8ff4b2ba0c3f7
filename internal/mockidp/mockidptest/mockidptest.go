// Package mockidptest runs the mock identity provider on an httptest server.
package mockidptest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/authshell/internal/mockidp"
)

const (
	ClientID    = "spa-client"
	APIAudience = "api://backend"
	APIScope    = APIAudience + "/access_as_user"
	TenantID    = "tenant-1"
	UserName    = "Jane Doe"
	UserEmail   = "jane.doe@example.com"
)

// Provider is a running mock provider.
type Provider struct {
	*httptest.Server
	Signer *mockidp.Signer
	Repo   *mockidp.InMemoryRepo
	User   *mockidp.User
}

// Start launches a provider that accepts redirectURIs for ClientID.
func Start(t *testing.T, redirectURIs ...string) *Provider {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	signer, err := mockidp.NewSigner("", srv.URL, APIAudience, time.Hour)
	require.NoError(t, err)

	repo := mockidp.NewInMemoryRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := mockidp.NewServer(context.Background(), repo, signer, mockidp.Options{
		Issuer:       srv.URL,
		ClientID:     ClientID,
		RedirectURIs: redirectURIs,
		TenantID:     TenantID,
		UserName:     UserName,
		UserEmail:    UserEmail,
	}, log)
	require.NoError(t, err)
	handler = server.Routes()

	user, err := repo.GetUserByID(context.Background(), server.UserID())
	require.NoError(t, err)

	return &Provider{Server: srv, Signer: signer, Repo: repo, User: user}
}

// AccessToken issues an access token for the provider's user.
func (p *Provider) AccessToken(t *testing.T, scopes ...string) string {
	t.Helper()
	tok, _, err := p.Signer.IssueAccessToken(p.User, ClientID, scopes)
	require.NoError(t, err)
	return tok
}

// Sign signs claims with the provider key.
func (p *Provider) Sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	tok, err := p.Signer.Sign(claims)
	require.NoError(t, err)
	return tok
}
