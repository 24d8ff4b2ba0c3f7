package shell

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/yourorg/authshell/internal/identity"
)

// Welcome serves GET /welcome.
func (s *Server) Welcome(w http.ResponseWriter, r *http.Request) {
	page, err := s.welcomePage(r)
	if err != nil {
		s.log.Error("welcome account lookup", "error", err)
		http.Error(w, "account cache unavailable", http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, "welcome.html", page)
}

// CallBackend serves the call-backend button: one GET, no retry.
func (s *Server) CallBackend(w http.ResponseWriter, r *http.Request) {
	page, err := s.welcomePage(r)
	if err != nil {
		s.log.Error("welcome account lookup", "error", err)
		http.Error(w, "account cache unavailable", http.StatusInternalServerError)
		return
	}
	if page.NoAccount {
		s.render(w, http.StatusOK, "welcome.html", page)
		return
	}

	start := time.Now()
	res, err := s.backend.CallProtected(r.Context())
	s.metrics.BackendTime.Observe(time.Since(start).Seconds())

	var ire *identity.InteractionRequiredError
	switch {
	case errors.As(err, &ire):
		s.metrics.BackendCalls.WithLabelValues("interaction_required").Inc()
		s.InitiateLogin(w, r, sessionFrom(r), ire.Scopes)
		return
	case err != nil:
		s.metrics.BackendCalls.WithLabelValues("error").Inc()
		s.log.Warn("backend call failed", "error", err)
		page.Result = errorJSON(err)
	default:
		s.metrics.BackendCalls.WithLabelValues("ok").Inc()
		page.Result = indentJSON(res.Raw)
	}
	s.render(w, http.StatusOK, "welcome.html", page)
}

// welcomePage reads the active account, falling back to the first cached one.
func (s *Server) welcomePage(r *http.Request) (welcomePage, error) {
	acct, err := sessionFrom(r).CurrentAccount(r.Context())
	if errors.Is(err, identity.ErrNoAccount) {
		return welcomePage{Title: "Welcome", NoAccount: true}, nil
	}
	if err != nil {
		return welcomePage{}, err
	}
	return welcomePage{Title: "Welcome", Name: acct.Name}, nil
}

func indentJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func errorJSON(err error) string {
	b, _ := json.MarshalIndent(map[string]string{"error": err.Error()}, "", "  ")
	return string(b)
}
