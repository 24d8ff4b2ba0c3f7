// Package identity is the shell's authentication gateway: it runs the
// OpenID Connect authorization code flow against the configured provider,
// owns the account cache, and hands out access tokens for outgoing calls.
// Callers never look inside tokens.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/authshell/internal/account"
	"github.com/yourorg/authshell/internal/jwks"
)

// Config describes the client registration at the identity provider.
type Config struct {
	ClientID     string
	ClientSecret string
	Authority    string
	RedirectURI  string
	Scopes       []string
	PendingTTL   time.Duration
	HTTPClient   *http.Client
}

type Gateway struct {
	cfg   Config
	store account.Store
	log   *slog.Logger

	mu       sync.Mutex
	ready    bool
	discover jwks.Discovery
	oauth    *oauth2.Config
	verifier *jwks.Verifier

	refresh singleflight.Group
	now     func() time.Time
}

func New(cfg Config, store account.Store, log *slog.Logger) *Gateway {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{cfg: cfg, store: store, log: log, now: time.Now}
}

// Initialize fetches the provider's discovery document. It is idempotent:
// after one success later calls return immediately; after a failure the next
// call tries again.
func (g *Gateway) Initialize(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}

	doc, err := jwks.Discover(ctx, g.cfg.HTTPClient, g.cfg.Authority)
	if err != nil {
		return fmt.Errorf("initialize identity gateway: %w", err)
	}
	// Key refresh outlives the request that triggered initialization.
	keys, err := jwks.NewCache(context.WithoutCancel(ctx), doc.JWKSURI, g.cfg.HTTPClient, time.Hour)
	if err != nil {
		return fmt.Errorf("initialize identity gateway: %w", err)
	}
	g.discover = doc
	g.oauth = newOAuthConfig(g.cfg, doc)
	g.verifier = &jwks.Verifier{
		Keys:     keys,
		Issuer:   issuerForVerifier(doc.Issuer),
		Audience: g.cfg.ClientID,
		Leeway:   5 * time.Minute,
	}
	g.ready = true
	g.log.Info("identity gateway initialized", "issuer", doc.Issuer)
	return nil
}

// initialized returns the flow configuration, or ErrNotInitialized.
func (g *Gateway) initialized() (*oauth2.Config, *jwks.Verifier, jwks.Discovery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		return nil, nil, jwks.Discovery{}, ErrNotInitialized
	}
	return g.oauth, g.verifier, g.discover, nil
}

// AllAccounts lists the session's cached accounts.
func (g *Gateway) AllAccounts(ctx context.Context, sessionID string) ([]account.Account, error) {
	return g.store.Accounts(ctx, sessionID)
}

// ActiveAccount returns the session's active account, or ErrNoAccount.
func (g *Gateway) ActiveAccount(ctx context.Context, sessionID string) (account.Account, error) {
	id, err := g.store.Active(ctx, sessionID)
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, ErrNoAccount
	}
	if err != nil {
		return account.Account{}, err
	}
	accounts, err := g.store.Accounts(ctx, sessionID)
	if err != nil {
		return account.Account{}, err
	}
	for _, a := range accounts {
		if a.HomeAccountID == id {
			return a, nil
		}
	}
	return account.Account{}, ErrNoAccount
}

// SetActiveAccount makes a cached account the session's active one.
func (g *Gateway) SetActiveAccount(ctx context.Context, sessionID string, a account.Account) error {
	if err := g.store.SetActive(ctx, sessionID, a.HomeAccountID); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return ErrNoAccount
		}
		return err
	}
	return nil
}

// currentAccount is the active account, falling back to the first cached one.
func (g *Gateway) currentAccount(ctx context.Context, sessionID string) (account.Account, error) {
	a, err := g.ActiveAccount(ctx, sessionID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNoAccount) {
		return account.Account{}, err
	}
	accounts, err := g.store.Accounts(ctx, sessionID)
	if err != nil {
		return account.Account{}, err
	}
	if len(accounts) == 0 {
		return account.Account{}, ErrNoAccount
	}
	return accounts[0], nil
}

func environmentOf(authority string) string {
	u, err := url.Parse(authority)
	if err != nil {
		return ""
	}
	return u.Host
}
