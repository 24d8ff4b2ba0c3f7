package shell

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/yourorg/authshell/internal/account"
	"github.com/yourorg/authshell/internal/identity"
)

// LoginOutcome is the result of loading the login view.
type LoginOutcome interface {
	outcome() string
}

// Unauthenticated: no account and no redirect response; show the login button.
type Unauthenticated struct{}

// Authenticated: an account is active and the browser moves on to /welcome.
type Authenticated struct {
	Account account.Account
	// Redirect is true when the account came from a redirect response on this request.
	Redirect bool
}

// Failed blocks navigation and is rendered as an error page.
type Failed struct {
	Status  int
	Message string
	Err     error
}

func (Unauthenticated) outcome() string { return "unauthenticated" }
func (Authenticated) outcome() string   { return "authenticated" }
func (Failed) outcome() string          { return "failed" }

// CompleteLogin initializes the gateway, processes a redirect response in
// query if there is one, and decides the login view's state.
func CompleteLogin(ctx context.Context, sess *identity.Session, query url.Values) LoginOutcome {
	if err := sess.Initialize(ctx); err != nil {
		return Failed{Status: http.StatusBadGateway, Message: "Could not reach the identity provider.", Err: err}
	}

	res, err := sess.HandleRedirect(ctx, query)
	if err != nil {
		return Failed{Status: http.StatusUnauthorized, Message: redirectFailureMessage(err), Err: err}
	}
	if res != nil {
		if err := sess.SetActiveAccount(ctx, res.Account); err != nil {
			return Failed{Status: http.StatusInternalServerError, Message: "Could not store the signed-in account.", Err: err}
		}
		return Authenticated{Account: res.Account, Redirect: true}
	}

	acct, err := sess.CurrentAccount(ctx)
	if errors.Is(err, identity.ErrNoAccount) {
		return Unauthenticated{}
	}
	if err != nil {
		return Failed{Status: http.StatusInternalServerError, Message: "Could not read the account cache.", Err: err}
	}
	if err := sess.SetActiveAccount(ctx, acct); err != nil {
		return Failed{Status: http.StatusInternalServerError, Message: "Could not store the signed-in account.", Err: err}
	}
	return Authenticated{Account: acct}
}

func redirectFailureMessage(err error) string {
	var perr *identity.ProviderError
	switch {
	case errors.As(err, &perr):
		return "The identity provider rejected the sign-in: " + perr.Error()
	case errors.Is(err, identity.ErrStateMismatch):
		return "The sign-in response does not belong to a sign-in started from this browser."
	default:
		return "The sign-in response could not be verified."
	}
}

// Login serves GET /login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	out := CompleteLogin(r.Context(), sessionFrom(r), r.URL.Query())
	s.metrics.LoginOutcomes.WithLabelValues(out.outcome()).Inc()

	switch o := out.(type) {
	case Authenticated:
		if o.Redirect {
			s.log.Info("signed in", "account", o.Account.HomeAccountID)
		}
		http.Redirect(w, r, "/welcome", http.StatusFound)
	case Failed:
		s.log.Error("login failed", "status", o.Status, "error", o.Err)
		s.renderError(w, o.Status, o.Message)
	default:
		s.render(w, http.StatusOK, "login.html", loginPage{Title: "Sign in"})
	}
}

// StartLogin serves the login button.
func (s *Server) StartLogin(w http.ResponseWriter, r *http.Request) {
	s.InitiateLogin(w, r, sessionFrom(r), nil)
}
