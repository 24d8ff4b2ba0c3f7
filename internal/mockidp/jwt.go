package mockidp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yourorg/authshell/internal/jwks"
)

// Signer issues RS256 ID and access tokens shaped like Microsoft identity platform v2 tokens.
type Signer struct {
	privateKey *rsa.PrivateKey
	kid        string
	issuer     string
	audience   string
	expire     time.Duration
	now        func() time.Time
}

// NewSigner loads a PKCS#1 private key from privPemPath, or generates one when the path is empty.
func NewSigner(privPemPath, issuer, audience string, expire time.Duration) (*Signer, error) {
	var key *rsa.PrivateKey
	if privPemPath == "" {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		key = k
	} else {
		privPEM, err := os.ReadFile(privPemPath)
		if err != nil {
			return nil, err
		}
		block, _ := pem.Decode(privPEM)
		if block == nil {
			return nil, errors.New("invalid private key pem")
		}
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
	}

	der := x509.MarshalPKCS1PublicKey(&key.PublicKey)
	sum := sha256.Sum256(der)
	return &Signer{
		privateKey: key,
		kid:        base64.RawURLEncoding.EncodeToString(sum[:8]),
		issuer:     issuer,
		audience:   audience,
		expire:     expire,
		now:        time.Now,
	}, nil
}

// IDTokenClaims are the claims of an issued ID token.
type IDTokenClaims struct {
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	OID               string `json:"oid"`
	TID               string `json:"tid"`
	Nonce             string `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenClaims are the claims of an issued access token.
type AccessTokenClaims struct {
	Name  string `json:"name"`
	OID   string `json:"oid"`
	TID   string `json:"tid"`
	Scope string `json:"scp"`
	AppID string `json:"azp"`
	jwt.RegisteredClaims
}

// Sign signs arbitrary claims with the provider key.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	return s.sign(claims)
}

func (s *Signer) sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.privateKey)
}

func (s *Signer) registered(subject string, audience string) (jwt.RegisteredClaims, time.Time) {
	now := s.now().UTC()
	exp := now.Add(s.expire)
	return jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}, exp
}

// IssueIDToken signs an ID token for u addressed to clientID.
func (s *Signer) IssueIDToken(u *User, clientID, nonce string) (string, error) {
	rc, _ := s.registered(u.ID, clientID)
	return s.sign(IDTokenClaims{
		Name:              u.FullName,
		PreferredUsername: u.Email,
		OID:               u.ID,
		TID:               u.TenantID,
		Nonce:             nonce,
		RegisteredClaims:  rc,
	})
}

// IssueAccessToken signs an access token for the API audience. Requested
// scopes of the form "<audience>/<name>" become space-separated scp values.
func (s *Signer) IssueAccessToken(u *User, clientID string, scopes []string) (string, time.Time, error) {
	rc, exp := s.registered(u.ID, s.audience)
	signed, err := s.sign(AccessTokenClaims{
		Name:             u.FullName,
		OID:              u.ID,
		TID:              u.TenantID,
		Scope:            strings.Join(apiScopes(s.audience, scopes), " "),
		AppID:            clientID,
		RegisteredClaims: rc,
	})
	return signed, exp, err
}

func apiScopes(audience string, scopes []string) []string {
	var out []string
	for _, sc := range scopes {
		if name, ok := strings.CutPrefix(sc, audience+"/"); ok && name != "" {
			out = append(out, name)
		}
	}
	return out
}

// JWKS publishes the signing key.
func (s *Signer) JWKS() (jwkset.JWKSMarshal, error) {
	return jwks.PublishRSA(s.kid, &s.privateKey.PublicKey)
}
