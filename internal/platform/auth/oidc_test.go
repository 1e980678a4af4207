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

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

const (
	testAudience = "https://api.safe2tow.app"
	testIssuer   = "https://accounts.google.com"
)

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "key-1",
			Algorithm: "RS256",
			Use:       "sig",
		}}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   "scheduler",
		"email": "scheduler@safe2tow.iam.gserviceaccount.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
}

func TestJWKSCacheFetchesOnce(t *testing.T) {
	f := newJWKSFixture(t)
	cache := NewJWKSCache(f.server.URL)
	for i := 0; i < 3; i++ {
		key, err := cache.Key(context.Background(), "key-1")
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if _, ok := key.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", key)
		}
	}
	if got := f.requests.Load(); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}
	if _, err := cache.Key(context.Background(), "unknown"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}
}

func TestJWKSCacheRefreshesAfterExpiry(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Unix(1_700_000_000, 0)
	cache := NewJWKSCache(f.server.URL, WithJWKSClock(func() time.Time { return now }))
	if _, err := cache.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("Key: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := cache.Key(context.Background(), "key-1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := f.requests.Load(); got != 2 {
		t.Fatalf("expected refresh after max-age, got %d fetches", got)
	}
}

func TestRequireOIDC(t *testing.T) {
	f := newJWKSFixture(t)
	validator := NewOIDCValidator(NewJWKSCache(f.server.URL), nil)
	middleware := validator.RequireOIDC(testAudience, []string{testIssuer})

	wrongAudience := baseClaims()
	wrongAudience["aud"] = "https://elsewhere"
	wrongIssuer := baseClaims()
	wrongIssuer["iss"] = "https://evil.example"
	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{name: "valid bearer", header: "Authorization", value: "Bearer " + f.sign(t, baseClaims()), status: http.StatusNoContent},
		{name: "valid iap", header: "X-Goog-Iap-Jwt-Assertion", value: f.sign(t, baseClaims()), status: http.StatusNoContent},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "audience", header: "Authorization", value: "Bearer " + f.sign(t, wrongAudience), status: http.StatusUnauthorized},
		{name: "issuer", header: "Authorization", value: "Bearer " + f.sign(t, wrongIssuer), status: http.StatusUnauthorized},
		{name: "expired", header: "Authorization", value: "Bearer " + f.sign(t, expired), status: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				identity, ok := ServiceIdentityFromContext(r.Context())
				if !ok || identity.Subject != "scheduler" {
					t.Fatalf("expected service identity, got %+v", identity)
				}
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/search-logs:purge", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRequireOIDCUnavailableWithoutAudience(t *testing.T) {
	validator := NewOIDCValidator(NewJWKSCache("http://127.0.0.1:0"), nil)
	rec := httptest.NewRecorder()
	validator.RequireOIDC("", nil)(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
