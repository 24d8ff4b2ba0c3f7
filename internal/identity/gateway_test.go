package identity_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/authshell/internal/account"
	"github.com/yourorg/authshell/internal/identity"
	"github.com/yourorg/authshell/internal/mockidp/mockidptest"
)

const redirectURI = "http://localhost:4200/login"

type fixture struct {
	idp   *mockidptest.Provider
	store *account.MemoryStore
	gw    *identity.Gateway
}

func setup(t *testing.T) *fixture {
	t.Helper()
	idp := mockidptest.Start(t, redirectURI)
	store := account.NewMemoryStore()
	gw := identity.New(identity.Config{
		ClientID:    mockidptest.ClientID,
		Authority:   idp.URL,
		RedirectURI: redirectURI,
		Scopes:      []string{"openid", "profile", mockidptest.APIScope},
		HTTPClient:  idp.Client(),
	}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{idp: idp, store: store, gw: gw}
}

// signIn starts a redirect login and returns the provider's callback query.
func (f *fixture) signIn(t *testing.T, sessionID string) url.Values {
	t.Helper()
	authURL, err := f.gw.LoginRedirect(context.Background(), sessionID, nil)
	require.NoError(t, err)

	client := f.idp.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	return loc.Query()
}

func TestHandleRedirect_RequiresInitialize(t *testing.T) {
	f := setup(t)
	_, err := f.gw.HandleRedirect(context.Background(), "s1", url.Values{})
	assert.ErrorIs(t, err, identity.ErrNotInitialized)
}

func TestInitialize_Idempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	require.NoError(t, f.gw.Initialize(ctx))
}

func TestInitialize_FailureLeavesGatewayUninitialized(t *testing.T) {
	store := account.NewMemoryStore()
	gw := identity.New(identity.Config{
		ClientID:  mockidptest.ClientID,
		Authority: "http://127.0.0.1:1",
	}, store, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, gw.Initialize(ctx))
	_, err := gw.HandleRedirect(ctx, "s1", url.Values{"code": {"c"}, "state": {"x"}})
	assert.ErrorIs(t, err, identity.ErrNotInitialized)
}

func TestHandleRedirect_NoResponse(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	res, err := f.gw.HandleRedirect(ctx, "s1", url.Values{})
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestHandleRedirect_SignsIn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	query := f.signIn(t, "s1")
	res, err := f.gw.HandleRedirect(ctx, "s1", query)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, mockidptest.UserName, res.Account.Name)
	assert.Equal(t, mockidptest.UserEmail, res.Account.Username)
	assert.Equal(t, mockidptest.TenantID, res.Account.TenantID)
	assert.Equal(t, f.idp.User.ID+"."+mockidptest.TenantID, res.Account.HomeAccountID)
	assert.Contains(t, res.Scopes, mockidptest.APIScope)

	accounts, err := f.gw.AllAccounts(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []account.Account{res.Account}, accounts)
}

func TestHandleRedirect_ReplayIsIgnored(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	require.NoError(t, f.gw.Initialize(ctx))

	query := f.signIn(t, "s1")
	first, err := f.gw.HandleRedirect(ctx, "s1", query)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := f.gw.HandleRedirect(ctx, "s1", query)
	require.NoError(t, err)
	assert.Nil(t, again)

	accounts, err := f.gw.AllAccounts(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestHandleRedirect_ForeignState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	query := f.signIn(t, "s1")
	_, err := f.gw.HandleRedirect(ctx, "s2", query)
	assert.ErrorIs(t, err, identity.ErrStateMismatch)

	accounts, err := f.gw.AllAccounts(ctx, "s2")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestHandleRedirect_ProviderError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	query := f.signIn(t, "s1")
	query.Del("code")
	query.Set("error", "access_denied")
	query.Set("error_description", "user cancelled")

	_, err := f.gw.HandleRedirect(ctx, "s1", query)
	var perr *identity.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "access_denied", perr.Code)
}

func TestHandleRedirect_BadCode(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	query := f.signIn(t, "s1")
	query.Set("code", "code_forged")
	_, err := f.gw.HandleRedirect(ctx, "s1", query)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange authorization code")
}

func TestActiveAccount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	_, err := f.gw.ActiveAccount(ctx, "s1")
	assert.ErrorIs(t, err, identity.ErrNoAccount)
	assert.ErrorIs(t, f.gw.SetActiveAccount(ctx, "s1", account.Account{HomeAccountID: "nobody"}), identity.ErrNoAccount)

	res, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)
	require.NoError(t, f.gw.SetActiveAccount(ctx, "s1", res.Account))

	active, err := f.gw.ActiveAccount(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, res.Account, active)
}

func TestAcquireTokenSilent_Cached(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	res, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)

	cached, err := f.store.Token(ctx, "s1", res.Account.HomeAccountID)
	require.NoError(t, err)

	tok, err := f.gw.AcquireTokenSilent(ctx, "s1", []string{mockidptest.APIScope})
	require.NoError(t, err)
	assert.Equal(t, cached.AccessToken, tok)
}

func TestAcquireTokenSilent_Refreshes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	res, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)
	home := res.Account.HomeAccountID

	stale, err := f.store.Token(ctx, "s1", home)
	require.NoError(t, err)
	stale.Expiry = time.Now().Add(time.Minute)
	require.NoError(t, f.store.SaveToken(ctx, "s1", home, stale))

	var wg sync.WaitGroup
	tokens := make([]string, 4)
	errs := make([]error, 4)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = f.gw.AcquireTokenSilent(ctx, "s1", []string{mockidptest.APIScope})
		}()
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.NotEmpty(t, tokens[i])
	}

	fresh, err := f.store.Token(ctx, "s1", home)
	require.NoError(t, err)
	assert.NotEqual(t, stale.RefreshToken, fresh.RefreshToken)
	assert.True(t, fresh.Expiry.After(time.Now().Add(30*time.Minute)))
}

func TestAcquireTokenSilent_ConcurrentScopeSets(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	res, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)
	home := res.Account.HomeAccountID

	scopeSets := [][]string{
		{mockidptest.APIScope},
		{mockidptest.APIScope, "profile"},
	}
	for round := range 20 {
		tok, err := f.store.Token(ctx, "s1", home)
		require.NoError(t, err)
		tok.Expiry = time.Now().Add(time.Minute)
		require.NoError(t, f.store.SaveToken(ctx, "s1", home, tok))

		var wg sync.WaitGroup
		errs := make([]error, len(scopeSets))
		for i, scopes := range scopeSets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.gw.AcquireTokenSilent(ctx, "s1", scopes)
			}()
		}
		wg.Wait()
		for i := range errs {
			require.NoError(t, errs[i], "round %d, scopes %v", round, scopeSets[i])
		}
	}
}

func TestAcquireTokenSilent_InteractionRequired(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))

	_, err := f.gw.AcquireTokenSilent(ctx, "s1", []string{mockidptest.APIScope})
	var ire *identity.InteractionRequiredError
	require.ErrorAs(t, err, &ire)
	assert.ErrorIs(t, err, identity.ErrInteractionRequired)

	res, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)
	home := res.Account.HomeAccountID

	revoked, err := f.store.Token(ctx, "s1", home)
	require.NoError(t, err)
	revoked.Expiry = time.Now().Add(-time.Hour)
	revoked.RefreshToken = "rt_revoked"
	require.NoError(t, f.store.SaveToken(ctx, "s1", home, revoked))

	_, err = f.gw.AcquireTokenSilent(ctx, "s1", []string{mockidptest.APIScope})
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "invalid_grant", ire.Reason)
}

func TestAcquireTokenSilent_ScopeNotGranted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	require.NoError(t, f.gw.Initialize(ctx))
	_, err := f.gw.HandleRedirect(ctx, "s1", f.signIn(t, "s1"))
	require.NoError(t, err)

	_, err = f.gw.AcquireTokenSilent(ctx, "s1", []string{"api://other/read"})
	assert.ErrorIs(t, err, identity.ErrInteractionRequired)
}

func TestSessionContext(t *testing.T) {
	f := setup(t)
	s := f.gw.Session("s1")

	ctx := identity.NewContext(context.Background(), s)
	got, ok := identity.FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = identity.FromContext(context.Background())
	assert.False(t, ok)
}
