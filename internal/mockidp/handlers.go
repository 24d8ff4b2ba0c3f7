package mockidp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/yourorg/authshell/internal/jwks"
	"github.com/yourorg/authshell/internal/platform/logger"
)

// Options configures a Server.
type Options struct {
	Issuer       string
	ClientID     string
	RedirectURIs []string
	TenantID     string
	UserName     string
	UserEmail    string
	CodeTTL      time.Duration
	RefreshTTL   time.Duration
}

// Server is a development OpenID Connect provider that signs every
// authorization request in as one configured user.
type Server struct {
	repo   Repo
	signer *Signer
	opts   Options
	userID string
	log    *slog.Logger
	now    func() time.Time
}

// generateID returns a random URL-safe identifier with a readable prefix.
func generateID(prefix string) string {
	b := make([]byte, 24)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, base64.RawURLEncoding.EncodeToString(b))
}

// NewServer seeds repo with the configured user.
func NewServer(ctx context.Context, repo Repo, signer *Signer, opts Options, log *slog.Logger) (*Server, error) {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 5 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	u := &User{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+opts.UserEmail)).String(),
		TenantID:  opts.TenantID,
		Email:     opts.UserEmail,
		FullName:  opts.UserName,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("seed user: %w", err)
	}
	return &Server{repo: repo, signer: signer, opts: opts, userID: u.ID, log: log, now: time.Now}, nil
}

// Routes returns the provider's HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.Requests(s.log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("OK")) })
	r.Get("/.well-known/openid-configuration", s.Discovery)
	r.Get("/keys", s.Keys)
	r.Get("/authorize", s.Authorize)
	r.Post("/token", s.Token)
	return r
}

func (s *Server) Discovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jwks.Discovery{
		Issuer:                s.opts.Issuer,
		AuthorizationEndpoint: s.opts.Issuer + "/authorize",
		TokenEndpoint:         s.opts.Issuer + "/token",
		JWKSURI:               s.opts.Issuer + "/keys",
		ScopesSupported:       []string{"openid", "profile", "email", "offline_access"},
	})
}

func (s *Server) Keys(w http.ResponseWriter, r *http.Request) {
	set, err := s.signer.JWKS()
	if err != nil {
		s.log.Error("publish signing keys", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// Authorize validates the request, signs the configured user in and redirects
// back to the client with a one-time code.
func (s *Server) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")
	if clientID != s.opts.ClientID {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	}
	if !slices.Contains(s.opts.RedirectURIs, redirectURI) {
		http.Error(w, "redirect_uri is not registered", http.StatusBadRequest)
		return
	}
	state := q.Get("state")
	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, state, "unsupported_response_type", "only code is supported")
		return
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		redirectError(w, r, redirectURI, state, "invalid_request", "PKCE with S256 is required")
		return
	}
	scopes := strings.Fields(q.Get("scope"))
	if !slices.Contains(scopes, "openid") {
		redirectError(w, r, redirectURI, state, "invalid_scope", "openid scope is required")
		return
	}

	code := &AuthCode{
		Code:          generateID("code"),
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		UserID:        s.userID,
		Scopes:        scopes,
		Nonce:         q.Get("nonce"),
		CodeChallenge: q.Get("code_challenge"),
		ExpiresAt:     s.now().Add(s.opts.CodeTTL),
	}
	if err := s.repo.SaveAuthCode(r.Context(), code); err != nil {
		redirectError(w, r, redirectURI, state, "server_error", "failed to store authorization code")
		return
	}

	target, _ := url.Parse(redirectURI)
	params := target.Query()
	params.Set("code", code.Code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// Token serves the authorization_code and refresh_token grants.
func (s *Server) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "bad form body")
		return
	}
	clientID := r.PostForm.Get("client_id")
	if id, _, ok := r.BasicAuth(); ok {
		clientID = id
	}
	if clientID != s.opts.ClientID {
		tokenError(w, "invalid_client", "unknown client_id")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.exchangeCode(w, r, clientID)
	case "refresh_token":
		s.refresh(w, r, clientID)
	default:
		tokenError(w, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) exchangeCode(w http.ResponseWriter, r *http.Request, clientID string) {
	ctx := r.Context()
	code, err := s.repo.TakeAuthCode(ctx, r.PostForm.Get("code"))
	if err != nil {
		tokenError(w, "invalid_grant", "authorization code is invalid or expired")
		return
	}
	if code.ClientID != clientID || code.RedirectURI != r.PostForm.Get("redirect_uri") {
		tokenError(w, "invalid_grant", "authorization code was issued to another client")
		return
	}
	if !verifyPKCE(r.PostForm.Get("code_verifier"), code.CodeChallenge) {
		tokenError(w, "invalid_grant", "code_verifier does not match code_challenge")
		return
	}
	u, err := s.repo.GetUserByID(ctx, code.UserID)
	if err != nil {
		tokenError(w, "invalid_grant", "user not found")
		return
	}
	s.issue(w, r, u, clientID, code.Scopes, code.Nonce)
}

// refresh rotates the refresh token and issues a new access token.
func (s *Server) refresh(w http.ResponseWriter, r *http.Request, clientID string) {
	ctx := r.Context()
	old := r.PostForm.Get("refresh_token")
	rt, err := s.repo.TakeRefreshToken(ctx, old)
	if errors.Is(err, ErrNotFound) || (err == nil && rt.ClientID != clientID) {
		tokenError(w, "invalid_grant", "refresh token is invalid or expired")
		return
	}
	if err != nil {
		s.log.Error("redeem refresh token", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	u, err := s.repo.GetUserByID(ctx, rt.UserID)
	if err != nil {
		tokenError(w, "invalid_grant", "user not found")
		return
	}
	s.issue(w, r, u, clientID, rt.Scopes, "")
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, u *User, clientID string, scopes []string, nonce string) {
	access, exp, err := s.signer.IssueAccessToken(u, clientID, scopes)
	if err != nil {
		http.Error(w, "jwt gen failed", http.StatusInternalServerError)
		return
	}
	resp := tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(exp).Seconds()),
		Scope:       strings.Join(scopes, " "),
	}
	if slices.Contains(scopes, "openid") {
		idToken, err := s.signer.IssueIDToken(u, clientID, nonce)
		if err != nil {
			http.Error(w, "jwt gen failed", http.StatusInternalServerError)
			return
		}
		resp.IDToken = idToken
	}
	if slices.Contains(scopes, "offline_access") {
		rt := &RefreshToken{
			Token:     generateID("rt"),
			UserID:    u.ID,
			ClientID:  clientID,
			Scopes:    scopes,
			ExpiresAt: s.now().Add(s.opts.RefreshTTL),
		}
		if err := s.repo.SaveRefreshToken(r.Context(), rt); err != nil {
			http.Error(w, "refresh token store failed", http.StatusInternalServerError)
			return
		}
		resp.RefreshToken = rt.Token
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

func verifyPKCE(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, description, http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("error", code)
	params.Set("error_description", description)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func tokenError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code, "error_description": description})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// UserID is the id (oid) of the user the server signs in.
func (s *Server) UserID() string { return s.userID }
