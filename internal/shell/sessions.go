package shell

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/yourorg/authshell/internal/identity"
)

const sessionCookie = "authshell_session"

// Sessions binds every request to a browser session, issuing the session
// cookie on first visit, and stores the gateway session in the context.
func Sessions(gw *identity.Gateway, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(sessionCookie); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    id,
					Path:     "/",
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			ctx := identity.NewContext(r.Context(), gw.Session(id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionFrom returns the request's session. Routes are only mounted behind Sessions.
func sessionFrom(r *http.Request) *identity.Session {
	s, ok := identity.FromContext(r.Context())
	if !ok {
		panic("shell: request without session; mount handlers behind Sessions")
	}
	return s
}
