// Package protectedapi is the backend the shell calls: it accepts RS256
// access tokens from the identity provider and answers GET /protected.
package protectedapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/yourorg/authshell/internal/backend"
	"github.com/yourorg/authshell/internal/config"
	"github.com/yourorg/authshell/internal/jwks"
	"github.com/yourorg/authshell/internal/platform/logger"
)

type Server struct {
	verifier      *jwks.Verifier
	requiredScope string
	allowOrigins  []string
	limiter       *RateLimiter
	metrics       *Metrics
	log           *slog.Logger
	now           func() time.Time
}

// NewVerifier builds the token verifier from cfg. With a JWKS URI the issuer
// is taken from cfg; otherwise both come from the authority's discovery
// document, and a configured issuer still wins. Key refresh stops with ctx.
func NewVerifier(ctx context.Context, cfg config.API, client *http.Client) (*jwks.Verifier, error) {
	jwksURI, issuer := cfg.JWKSURI, cfg.Issuer
	if jwksURI == "" {
		doc, err := jwks.Discover(ctx, client, cfg.Authority)
		if err != nil {
			return nil, fmt.Errorf("protected api: %w", err)
		}
		jwksURI = doc.JWKSURI
		if issuer == "" {
			issuer = doc.Issuer
		}
	}
	keys, err := jwks.NewCache(ctx, jwksURI, client, cfg.KeysTTL)
	if err != nil {
		return nil, fmt.Errorf("protected api: %w", err)
	}
	return &jwks.Verifier{
		Keys:     keys,
		Issuer:   issuer,
		Audience: cfg.Audience,
	}, nil
}

// New wires the API. The rate limiter's cleanup stops with ctx.
func New(ctx context.Context, cfg config.API, verifier *jwks.Verifier, metrics *Metrics, log *slog.Logger) *Server {
	limiter := NewRateLimiter(ctx, rate.Limit(cfg.RateLimit), cfg.RateBurst)
	limiter.onReject = metrics.RateLimited.Inc
	return &Server{
		verifier:      verifier,
		requiredScope: cfg.RequiredScope,
		allowOrigins:  cfg.AllowOrigins,
		limiter:       limiter,
		metrics:       metrics,
		log:           log,
		now:           time.Now,
	}
}

// Routes mounts the API. The rate limiter keys on the connection's address;
// forwarding headers are not trusted.
func (s *Server) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Requests(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	}))

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Use(s.Verify)
		r.Get("/protected", s.Protected)
	})
	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": s.now().Unix()})
}

// Protected greets the token's subject.
func (s *Server) Protected(w http.ResponseWriter, r *http.Request) {
	c := ClaimsFromContext(r.Context())
	s.metrics.Authorized.Inc()

	name := c.Name
	if name == "" {
		name = "unknown"
	}
	var iat int64
	if c.IssuedAt != nil {
		iat = c.IssuedAt.Unix()
	}
	writeJSON(w, http.StatusOK, backend.Response{
		Message:  "Hello " + name + "!",
		OID:      c.OID,
		IssuedAt: iat,
	})
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
