package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testProject = "ieltsprep-test"

type jwksFixture struct {
	key      *rsa.PrivateKey
	verifier *TokenVerifier
	fetches  *atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("鍵の生成に失敗: %v", err)
	}

	fetches := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "kid-1",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)

	return &jwksFixture{
		key:      key,
		verifier: NewTokenVerifier(srv.Client(), testProject, srv.URL),
		fetches:  fetches,
	}
}

func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims, kid string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("署名に失敗: %v", err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":      "https://securetoken.google.com/" + testProject,
		"aud":      testProject,
		"sub":      "uid-1",
		"iat":      now.Add(-time.Minute).Unix(),
		"exp":      now.Add(time.Hour).Unix(),
		"email":    "a@example.com",
		"name":     "Ayesha Khan",
		"picture":  "https://example.com/a.jpg",
		"firebase": map[string]any{"sign_in_provider": "google.com"},
	}
}

func TestTokenVerifier_ValidToken(t *testing.T) {
	f := newJWKSFixture(t)

	claims, err := f.verifier.Verify(context.Background(), f.sign(t, validClaims(), "kid-1"))
	if err != nil {
		t.Fatalf("Verify がエラーを返した: %v", err)
	}
	if claims.UID != "uid-1" || claims.Email != "a@example.com" || claims.Name != "Ayesha Khan" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ProviderID != "google.com" || claims.Picture != "https://example.com/a.jpg" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenVerifier_CachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	token := f.sign(t, validClaims(), "kid-1")

	for i := 0; i < 3; i++ {
		if _, err := f.verifier.Verify(context.Background(), token); err != nil {
			t.Fatalf("Verify がエラーを返した: %v", err)
		}
	}
	if n := f.fetches.Load(); n != 1 {
		t.Errorf("JWKS取得回数 = %d, want 1", n)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	f := newJWKSFixture(t)

	tests := []struct {
		name   string
		mutate func(c jwt.MapClaims)
		kid    string
	}{
		{"発行者が異なる", func(c jwt.MapClaims) { c["iss"] = "https://securetoken.google.com/other" }, "kid-1"},
		{"対象者が異なる", func(c jwt.MapClaims) { c["aud"] = "other" }, "kid-1"},
		{"期限切れ", func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Minute).Unix() }, "kid-1"},
		{"有効期限なし", func(c jwt.MapClaims) { delete(c, "exp") }, "kid-1"},
		{"subjectが空", func(c jwt.MapClaims) { c["sub"] = "" }, "kid-1"},
		{"未知のkid", func(c jwt.MapClaims) {}, "kid-unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			tt.mutate(claims)

			_, err := f.verifier.Verify(context.Background(), f.sign(t, claims, tt.kid))
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenVerifier_RejectsHS256(t *testing.T) {
	f := newJWKSFixture(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	token.Header["kid"] = "kid-1"
	s, _ := token.SignedString([]byte("secret"))

	if _, err := f.verifier.Verify(context.Background(), s); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenVerifier_Garbage(t *testing.T) {
	f := newJWKSFixture(t)

	if _, err := f.verifier.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("error = %v, want ErrInvalidToken", err)
	}
}
