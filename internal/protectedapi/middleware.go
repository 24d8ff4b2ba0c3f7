package protectedapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yourorg/authshell/internal/jwks"
)

type contextKey string

const ctxClaimsKey = contextKey("claims")

// Verify checks Authorization: Bearer <token> against the verifier and the
// required scope, and stores the claims in the request context.
func (s *Server) Verify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			s.reject(w, r, "missing_header", http.StatusUnauthorized, "Missing Authorization header", nil)
			return
		}

		var claims Claims
		if err := s.verifier.Verify(r.Context(), raw, &claims); err != nil {
			reason, status, detail := classify(err)
			s.reject(w, r, reason, status, detail, err)
			return
		}
		if !claims.HasScope(s.requiredScope) {
			s.reject(w, r, "missing_scope", http.StatusForbidden, "Missing required scope", nil)
			return
		}

		ctx := context.WithValue(r.Context(), ctxClaimsKey, &claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims stored by Verify.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(ctxClaimsKey).(*Claims)
	return c
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// classify maps a verification error onto a metric reason, status and detail.
func classify(err error) (string, int, string) {
	switch {
	case errors.Is(err, jwks.ErrUnknownKey):
		return "unknown_key", http.StatusUnauthorized, "Invalid token key"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired", http.StatusUnauthorized, "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "bad_claims", http.StatusUnauthorized, "Bad claims: Invalid audience"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "bad_claims", http.StatusUnauthorized, "Bad claims: Invalid issuer"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "bad_claims", http.StatusUnauthorized, "Bad claims: The token is not yet valid"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "bad_claims", http.StatusUnauthorized, "Bad claims: Required claim missing"
	default:
		return "invalid", http.StatusUnauthorized, "Token invalid"
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, reason string, status int, detail string, err error) {
	s.metrics.AuthFailures.WithLabelValues(reason).Inc()
	attrs := []any{"reason", reason, "path", r.URL.Path}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.log.Warn("request rejected", attrs...)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeDetail(w, status, detail)
}
