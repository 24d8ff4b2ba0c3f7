package protectedapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/authshell/internal/config"
	"github.com/yourorg/authshell/internal/mockidp"
	"github.com/yourorg/authshell/internal/mockidp/mockidptest"
)

type fixture struct {
	idp *mockidptest.Provider
	api http.Handler
}

func setup(t *testing.T, mutate func(*config.API)) *fixture {
	t.Helper()
	idp := mockidptest.Start(t, "http://localhost:4200/")
	cfg := config.API{
		Authority:     idp.URL,
		Audience:      mockidptest.APIAudience,
		RequiredScope: "access_as_user",
		AllowOrigins:  []string{"http://localhost:4200"},
		KeysTTL:       time.Hour,
		RateLimit:     100,
		RateBurst:     100,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	verifier, err := NewVerifier(ctx, cfg, idp.Client())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(ctx, cfg, verifier, NewMetrics(reg), log)
	return &fixture{idp: idp, api: srv.Routes(reg)}
}

func (f *fixture) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) claims(mutate func(*mockidp.AccessTokenClaims)) mockidp.AccessTokenClaims {
	now := time.Now()
	c := mockidp.AccessTokenClaims{
		Name:  mockidptest.UserName,
		OID:   f.idp.User.ID,
		TID:   mockidptest.TenantID,
		Scope: "access_as_user",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    f.idp.URL,
			Audience:  jwt.ClaimStrings{mockidptest.APIAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	if mutate != nil {
		mutate(&c)
	}
	return c
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Detail
}

func TestHealth(t *testing.T) {
	f := setup(t, nil)
	rec := f.get(t, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Time   int64  `json:"time"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.InDelta(t, time.Now().Unix(), body.Time, 5)
}

func TestProtected_OK(t *testing.T) {
	f := setup(t, nil)
	rec := f.get(t, "/protected", f.idp.AccessToken(t, mockidptest.APIScope))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Message  string `json:"message"`
		OID      string `json:"oid"`
		IssuedAt int64  `json:"issued_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hello Jane Doe!", body.Message)
	assert.Equal(t, f.idp.User.ID, body.OID)
	assert.InDelta(t, time.Now().Unix(), body.IssuedAt, 5)
}

func TestProtected_UnknownName(t *testing.T) {
	f := setup(t, nil)
	token := f.idp.Sign(t, f.claims(func(c *mockidp.AccessTokenClaims) { c.Name = "" }))
	rec := f.get(t, "/protected", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"Hello unknown!"`)
}

func TestProtected_Rejections(t *testing.T) {
	f := setup(t, nil)
	other, err := mockidp.NewSigner("", f.idp.URL, mockidptest.APIAudience, time.Hour)
	require.NoError(t, err)
	foreign, _, err := other.IssueAccessToken(f.idp.User, mockidptest.ClientID, []string{mockidptest.APIScope})
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		status int
		detail string
	}{
		{"missing header", "", http.StatusUnauthorized, "Missing Authorization header"},
		{"garbage", "not-a-jwt", http.StatusUnauthorized, "Token invalid"},
		{"unknown key", foreign, http.StatusUnauthorized, "Invalid token key"},
		{
			"expired",
			f.idp.Sign(t, f.claims(func(c *mockidp.AccessTokenClaims) {
				c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			})),
			http.StatusUnauthorized, "Token expired",
		},
		{
			"wrong audience",
			f.idp.Sign(t, f.claims(func(c *mockidp.AccessTokenClaims) { c.Audience = jwt.ClaimStrings{"api://other"} })),
			http.StatusUnauthorized, "Bad claims: Invalid audience",
		},
		{
			"wrong issuer",
			f.idp.Sign(t, f.claims(func(c *mockidp.AccessTokenClaims) { c.Issuer = "https://evil.example" })),
			http.StatusUnauthorized, "Bad claims: Invalid issuer",
		},
		{
			"missing scope",
			f.idp.Sign(t, f.claims(func(c *mockidp.AccessTokenClaims) { c.Scope = "read write" })),
			http.StatusForbidden, "Missing required scope",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get(t, "/protected", tt.token)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.detail, detail(t, rec))
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestProtected_ExplicitJWKS(t *testing.T) {
	var idpURL string
	f := setup(t, func(c *config.API) {
		idpURL = c.Authority
		c.Authority = ""
		c.JWKSURI = idpURL + "/keys"
		c.Issuer = idpURL
	})
	rec := f.get(t, "/protected", f.idp.AccessToken(t, mockidptest.APIScope))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	f := setup(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/protected", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "authorization")
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET")

	req = httptest.NewRequest(http.MethodOptions, "/protected", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec = httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	rec = httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := setup(t, func(c *config.API) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	token := f.idp.AccessToken(t, mockidptest.APIScope)

	assert.Equal(t, http.StatusOK, f.get(t, "/protected", token).Code)
	assert.Equal(t, http.StatusOK, f.get(t, "/protected", token).Code)
	rec := f.get(t, "/protected", token)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests", detail(t, rec))
}

func TestRateLimit_IgnoresForwardedFor(t *testing.T) {
	f := setup(t, func(c *config.API) {
		c.RateLimit = 0.001
		c.RateBurst = 2
	})
	token := f.idp.AccessToken(t, mockidptest.APIScope)

	codes := make([]int, 0, 4)
	for i := range 4 {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		f.api.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestClaims_HasScope(t *testing.T) {
	c := &Claims{Scope: "read access_as_user"}
	assert.True(t, c.HasScope("access_as_user"))
	assert.False(t, c.HasScope("access"))
}
