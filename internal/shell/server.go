// Package shell is the server-rendered web shell: a login view, a guarded
// welcome view and the call to the protected backend.
package shell

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/authshell/internal/backend"
	"github.com/yourorg/authshell/internal/identity"
	"github.com/yourorg/authshell/internal/interceptor"
	"github.com/yourorg/authshell/internal/platform/logger"
)

type Options struct {
	SecureCookies bool
}

type Server struct {
	gw      *identity.Gateway
	backend *backend.Client
	metrics *Metrics
	log     *slog.Logger
	opts    Options
}

func New(gw *identity.Gateway, api *backend.Client, metrics *Metrics, log *slog.Logger, opts Options) *Server {
	return &Server{gw: gw, backend: api, metrics: metrics, log: log, opts: opts}
}

// Routes builds the shell's router. gatherer backs /metrics.
func (s *Server) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Requests(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("OK")) })
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(Sessions(s.gw, s.opts.SecureCookies))
		r.Get("/", s.Index)
		r.Get("/login", s.Login)
		r.Post("/login", s.StartLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.Guard)
			r.Get("/welcome", s.Welcome)
			r.Post("/welcome/call", s.CallBackend)
		})
	})
	return r
}

// Index forwards to the login view, keeping the query so the site root can be
// the registered redirect URI.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	target := "/login"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// SessionAcquirer resolves the token source for interceptor.Transport from
// the request context.
func SessionAcquirer(ctx context.Context) (interceptor.Acquirer, bool) {
	s, ok := identity.FromContext(ctx)
	if !ok {
		return nil, false
	}
	return s, true
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		s.log.Error("render template", "template", name, "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "error.html", errorPage{Title: "Sign-in failed", Message: msg})
}
