package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

type stubTokenVerifier struct {
	token *firebaseauth.Token
	err   error
}

func (s stubTokenVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return s.token, s.err
}

func serveStaff(t *testing.T, verifier TokenVerifier, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := NewAuthenticator(verifier).RequireStaff(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/INV-1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireStaffAllowsRole(t *testing.T) {
	verifier := stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "staff-1",
		Claims: map[string]any{"role": []any{"Staff"}, "email": "ops@naia.example"},
	}}
	rec, identity := serveStaff(t, verifier, "Bearer abc", RoleAdmin, RoleStaff)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if identity == nil || identity.UID != "staff-1" || identity.Email != "ops@naia.example" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if ActorFromContext(WithIdentity(context.Background(), identity)) != "staff-1" {
		t.Fatalf("expected actor to be staff uid")
	}
	if ActorFromContext(context.Background()) != "system" {
		t.Fatalf("expected system actor without identity")
	}
}

func TestRequireStaffRejections(t *testing.T) {
	tests := []struct {
		name     string
		verifier TokenVerifier
		header   string
		status   int
	}{
		{name: "missing header", verifier: stubTokenVerifier{}, status: http.StatusUnauthorized},
		{name: "wrong scheme", verifier: stubTokenVerifier{}, header: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid token", verifier: stubTokenVerifier{err: errors.New("bad")}, header: "Bearer abc", status: http.StatusUnauthorized},
		{
			name:     "missing role",
			verifier: stubTokenVerifier{token: &firebaseauth.Token{UID: "u", Claims: map[string]any{"role": "customer"}}},
			header:   "Bearer abc",
			status:   http.StatusForbidden,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, identity := serveStaff(t, tc.verifier, tc.header, RoleAdmin)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if identity != nil {
				t.Fatalf("handler should not run")
			}
		})
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	if got := rolesFromClaims(map[string]any{"role": map[string]any{"admin": true, "staff": false}}, "role"); len(got) != 1 || got[0] != "admin" {
		t.Fatalf("unexpected roles %v", got)
	}
	if got := rolesFromClaims(map[string]any{"role": []string{"admin", "ADMIN"}}, "role"); len(got) != 1 {
		t.Fatalf("expected deduplicated roles, got %v", got)
	}
}

type oidcFixture struct {
	key      *rsa.PrivateKey
	fetches  atomic.Int32
	server   *httptest.Server
	validate *OIDCValidator
}

func newOIDCFixture(t *testing.T) *oidcFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &oidcFixture{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		f.fetches.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	f.validate = NewOIDCValidator(NewJWKSCache(f.server.URL))
	return f
}

func (f *oidcFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func (f *oidcFixture) call(token string) int {
	handler := f.validate.RequireOIDC("https://api.naia.example", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ServiceIdentityFromContext(r.Context()); !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	req := httptest.NewRequest(http.MethodPost, "/internal/outbox/dispatch", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireOIDC(t *testing.T) {
	f := newOIDCFixture(t)
	exp := time.Now().Add(time.Hour).Unix()

	valid := f.sign(t, jwt.MapClaims{"iss": "https://accounts.google.com", "aud": "https://api.naia.example", "sub": "scheduler", "exp": exp})
	if code := f.call(valid); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := f.call(valid); code != http.StatusNoContent {
		t.Fatalf("expected cached key to verify, got %d", code)
	}
	if n := f.fetches.Load(); n != 1 {
		t.Fatalf("expected single jwks fetch, got %d", n)
	}

	wrongAud := f.sign(t, jwt.MapClaims{"iss": "https://accounts.google.com", "aud": "other", "exp": exp})
	if code := f.call(wrongAud); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for audience mismatch, got %d", code)
	}
	wrongIss := f.sign(t, jwt.MapClaims{"iss": "https://evil.example", "aud": "https://api.naia.example", "exp": exp})
	if code := f.call(wrongIss); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for issuer mismatch, got %d", code)
	}
	expired := f.sign(t, jwt.MapClaims{"iss": "https://accounts.google.com", "aud": "https://api.naia.example", "exp": time.Now().Add(-time.Hour).Unix()})
	if code := f.call(expired); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", code)
	}
	if code := f.call(""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
}

func TestRequireOIDCWithoutAudience(t *testing.T) {
	handler := NewOIDCValidator(NewJWKSCache("http://unused")).RequireOIDC("", nil)(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/expiry/sweep", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestParseMaxAge(t *testing.T) {
	if got := parseMaxAge("public, max-age=120, must-revalidate"); got != 2*time.Minute {
		t.Fatalf("unexpected max-age %s", got)
	}
	if got := parseMaxAge("no-store"); got != 0 {
		t.Fatalf("expected zero, got %s", got)
	}
}
