package shell

import (
	"context"
	"net/http"

	"github.com/yourorg/authshell/internal/identity"
)

// Authorized reports whether the session may enter a guarded route: the
// account cache holds at least one account.
func Authorized(ctx context.Context, s *identity.Session) (bool, error) {
	accounts, err := s.AllAccounts(ctx)
	if err != nil {
		return false, err
	}
	return len(accounts) > 0, nil
}

// InitiateLogin sends the browser to the provider's sign-in page.
func (s *Server) InitiateLogin(w http.ResponseWriter, r *http.Request, sess *identity.Session, scopes []string) {
	target, err := sess.LoginRedirect(r.Context(), scopes)
	if err != nil {
		s.log.Error("start redirect login", "error", err)
		s.renderError(w, http.StatusBadGateway, "Could not reach the identity provider.")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Guard lets a request through only when Authorized holds; otherwise it starts
// the redirect login instead of rendering the route.
func (s *Server) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		ok, err := Authorized(r.Context(), sess)
		if err != nil {
			s.log.Error("guard account lookup", "error", err)
			http.Error(w, "account cache unavailable", http.StatusInternalServerError)
			return
		}
		if !ok {
			s.metrics.GuardRejects.Inc()
			s.InitiateLogin(w, r, sess, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
