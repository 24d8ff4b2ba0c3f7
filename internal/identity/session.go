package identity

import (
	"context"
	"net/url"

	"github.com/yourorg/authshell/internal/account"
)

// Session is the gateway bound to one browser session. Handlers receive it
// through the request context.
type Session struct {
	ID string
	gw *Gateway
}

// Session binds the gateway to a browser session id.
func (g *Gateway) Session(id string) *Session {
	return &Session{ID: id, gw: g}
}

func (s *Session) Initialize(ctx context.Context) error {
	return s.gw.Initialize(ctx)
}

func (s *Session) HandleRedirect(ctx context.Context, query url.Values) (*RedirectResult, error) {
	return s.gw.HandleRedirect(ctx, s.ID, query)
}

func (s *Session) LoginRedirect(ctx context.Context, scopes []string) (string, error) {
	return s.gw.LoginRedirect(ctx, s.ID, scopes)
}

func (s *Session) AllAccounts(ctx context.Context) ([]account.Account, error) {
	return s.gw.AllAccounts(ctx, s.ID)
}

func (s *Session) ActiveAccount(ctx context.Context) (account.Account, error) {
	return s.gw.ActiveAccount(ctx, s.ID)
}

func (s *Session) SetActiveAccount(ctx context.Context, a account.Account) error {
	return s.gw.SetActiveAccount(ctx, s.ID, a)
}

// CurrentAccount is the active account, or the first cached one, or ErrNoAccount.
func (s *Session) CurrentAccount(ctx context.Context) (account.Account, error) {
	return s.gw.currentAccount(ctx, s.ID)
}

func (s *Session) AcquireTokenSilent(ctx context.Context, scopes []string) (string, error) {
	return s.gw.AcquireTokenSilent(ctx, s.ID, scopes)
}

type sessionKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok
}
