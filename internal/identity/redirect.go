package identity

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/yourorg/authshell/internal/account"
)

const tenantPlaceholder = "{tenantid}"

// RedirectResult is what a completed redirect sign-in produced.
type RedirectResult struct {
	Account account.Account
	Scopes  []string
}

type idTokenClaims struct {
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	OID               string `json:"oid"`
	TID               string `json:"tid"`
	Nonce             string `json:"nonce"`
	jwt.RegisteredClaims
}

// LoginRedirect records a pending authorization request for the session and
// returns the provider URL the browser must be sent to.
func (g *Gateway) LoginRedirect(ctx context.Context, sessionID string, scopes []string) (string, error) {
	if err := g.Initialize(ctx); err != nil {
		return "", err
	}
	cfg, _, _, err := g.initialized()
	if err != nil {
		return "", err
	}

	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	requested := mergeScopes(cfg.Scopes, scopes)
	pending := account.Pending{
		State:     state,
		Verifier:  oauth2.GenerateVerifier(),
		Nonce:     nonce,
		Scopes:    requested,
		ExpiresAt: g.now().Add(g.cfg.PendingTTL),
	}
	if err := g.store.SavePending(ctx, sessionID, pending); err != nil {
		return "", fmt.Errorf("save pending request: %w", err)
	}

	return cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(pending.Verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("scope", strings.Join(requested, " ")),
	), nil
}

// HandleRedirect completes a redirect sign-in if query carries the provider's
// response. It returns (nil, nil) when there is no response to process. A
// response whose state is unknown is ErrStateMismatch, unless the session
// already holds an account: then it is a reload of a consumed callback URL
// and is ignored.
func (g *Gateway) HandleRedirect(ctx context.Context, sessionID string, query url.Values) (*RedirectResult, error) {
	cfg, verifier, doc, err := g.initialized()
	if err != nil {
		return nil, err
	}
	state := query.Get("state")
	code := query.Get("code")
	providerErr := query.Get("error")
	if state == "" || (code == "" && providerErr == "") {
		return nil, nil
	}

	pending, err := g.store.TakePending(ctx, sessionID, state)
	if errors.Is(err, account.ErrNotFound) {
		accounts, aerr := g.store.Accounts(ctx, sessionID)
		if aerr == nil && len(accounts) > 0 {
			g.log.Warn("ignoring replayed redirect response", "session", sessionID)
			return nil, nil
		}
		return nil, ErrStateMismatch
	}
	if err != nil {
		return nil, fmt.Errorf("load pending request: %w", err)
	}

	if providerErr != "" {
		return nil, &ProviderError{Code: providerErr, Description: query.Get("error_description")}
	}

	tok, err := cfg.Exchange(g.clientContext(ctx), code, oauth2.VerifierOption(pending.Verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	rawID, _ := tok.Extra("id_token").(string)
	if rawID == "" {
		return nil, errors.New("token response carries no id_token")
	}

	var claims idTokenClaims
	if err := verifier.Verify(ctx, rawID, &claims); err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	if err := checkIssuer(doc.Issuer, claims); err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(pending.Nonce)) != 1 {
		return nil, fmt.Errorf("verify id_token: nonce: %w", ErrStateMismatch)
	}

	acct := g.accountFromClaims(claims)
	scopes := grantedScopes(tok, pending.Scopes)
	if err := g.store.SaveAccount(ctx, sessionID, acct); err != nil {
		return nil, fmt.Errorf("cache account: %w", err)
	}
	if err := g.store.SaveToken(ctx, sessionID, acct.HomeAccountID, account.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	}); err != nil {
		return nil, fmt.Errorf("cache token: %w", err)
	}
	g.log.Info("redirect sign-in completed", "session", sessionID, "account", acct.HomeAccountID)
	return &RedirectResult{Account: acct, Scopes: scopes}, nil
}

func (g *Gateway) accountFromClaims(c idTokenClaims) account.Account {
	local := c.OID
	if local == "" {
		local = c.Subject
	}
	home := local
	if c.TID != "" {
		home = local + "." + c.TID
	}
	return account.Account{
		HomeAccountID:  home,
		LocalAccountID: local,
		TenantID:       c.TID,
		Environment:    environmentOf(g.cfg.Authority),
		Username:       c.PreferredUsername,
		Name:           c.Name,
	}
}

// grantedScopes prefers the scope list the provider returned with the token.
func grantedScopes(tok *oauth2.Token, requested []string) []string {
	if s, ok := tok.Extra("scope").(string); ok && s != "" {
		return strings.Fields(s)
	}
	return requested
}

// issuerForVerifier drops multi-tenant issuer templates, which checkIssuer handles.
func issuerForVerifier(issuer string) string {
	if strings.Contains(issuer, tenantPlaceholder) {
		return ""
	}
	return issuer
}

func checkIssuer(issuer string, c idTokenClaims) error {
	if !strings.Contains(issuer, tenantPlaceholder) {
		return nil
	}
	want := strings.ReplaceAll(issuer, tenantPlaceholder, c.TID)
	if c.TID == "" || c.Issuer != want {
		return fmt.Errorf("verify id_token: %w", jwt.ErrTokenInvalidIssuer)
	}
	return nil
}
