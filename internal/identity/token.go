package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/yourorg/authshell/internal/account"
)

// expirySkew is how long before expiry a cached access token stops being handed out.
const expirySkew = 5 * time.Minute

// AcquireTokenSilent returns an access token for scopes without user
// interaction: the cached token if it still covers scopes, otherwise one
// redeemed with the cached refresh token. When neither works the error is an
// *InteractionRequiredError.
func (g *Gateway) AcquireTokenSilent(ctx context.Context, sessionID string, scopes []string) (string, error) {
	cfg, _, _, err := g.initialized()
	if err != nil {
		return "", err
	}
	acct, err := g.currentAccount(ctx, sessionID)
	if errors.Is(err, ErrNoAccount) {
		return "", &InteractionRequiredError{Scopes: scopes, Reason: "no signed-in account", Err: err}
	}
	if err != nil {
		return "", err
	}

	tok, err := g.store.Token(ctx, sessionID, acct.HomeAccountID)
	if errors.Is(err, account.ErrNotFound) {
		return "", &InteractionRequiredError{Scopes: scopes, Reason: "no cached token"}
	}
	if err != nil {
		return "", fmt.Errorf("load cached token: %w", err)
	}
	if g.fresh(tok) {
		if !tok.Covers(scopes) {
			return "", &InteractionRequiredError{Scopes: scopes, Reason: "consent required"}
		}
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == "" {
		return "", &InteractionRequiredError{Scopes: scopes, Reason: "no refresh token"}
	}

	// One redemption per account: the provider rotates the refresh token, so
	// a second concurrent redemption would present a revoked one.
	key := sessionID + "|" + acct.HomeAccountID
	v, err, shared := g.refresh.Do(key, func() (any, error) {
		return g.redeem(ctx, cfg, sessionID, acct.HomeAccountID)
	})
	if err != nil {
		var ire *InteractionRequiredError
		if errors.As(err, &ire) {
			return "", &InteractionRequiredError{Scopes: scopes, Reason: ire.Reason, Err: ire.Err}
		}
		return "", err
	}
	if shared {
		g.log.Debug("joined in-flight token refresh", "session", sessionID)
	}
	next := v.(account.Token)
	if !next.Covers(scopes) {
		return "", &InteractionRequiredError{Scopes: scopes, Reason: "consent required"}
	}
	return next.AccessToken, nil
}

// fresh reports whether tok can be handed out without a refresh.
func (g *Gateway) fresh(tok account.Token) bool {
	return tok.AccessToken != "" && tok.Expiry.After(g.now().Add(expirySkew))
}

// redeem exchanges the refresh token and caches the result. The cache is read
// again first since a refresh that just finished has rotated the refresh token.
func (g *Gateway) redeem(ctx context.Context, cfg *oauth2.Config, sessionID, homeAccountID string) (account.Token, error) {
	cached, err := g.store.Token(ctx, sessionID, homeAccountID)
	if err != nil {
		return account.Token{}, fmt.Errorf("load cached token: %w", err)
	}
	if g.fresh(cached) {
		return cached, nil
	}

	// A zero expiry would make the token source hand the stale token back.
	expired := &oauth2.Token{RefreshToken: cached.RefreshToken, Expiry: g.now().Add(-time.Minute)}
	fresh, err := cfg.TokenSource(g.clientContext(ctx), expired).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && (re.ErrorCode == "invalid_grant" || re.ErrorCode == "interaction_required") {
			return account.Token{}, &InteractionRequiredError{Reason: re.ErrorCode, Err: err}
		}
		return account.Token{}, fmt.Errorf("refresh access token: %w", err)
	}

	next := account.Token{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		TokenType:    fresh.Type(),
		Expiry:       fresh.Expiry,
		Scopes:       grantedScopes(fresh, cached.Scopes),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = cached.RefreshToken
	}
	if err := g.store.SaveToken(ctx, sessionID, homeAccountID, next); err != nil {
		return account.Token{}, fmt.Errorf("cache token: %w", err)
	}
	g.log.Info("access token refreshed", "session", sessionID, "account", homeAccountID)
	return next, nil
}
