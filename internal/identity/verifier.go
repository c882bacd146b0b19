package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultJWKSURL はIDトークン署名鍵の公開エンドポイント。
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	// jwksCacheTTL は署名鍵をキャッシュする時間。
	jwksCacheTTL = 15 * time.Minute
)

// ErrInvalidToken はIDトークンの検証に失敗した場合のエラー。
var ErrInvalidToken = errors.New("identity: invalid id token")

// TokenClaims は検証済みIDトークンから取り出したユーザー情報。
type TokenClaims struct {
	UID        string
	Email      string
	Name       string
	Picture    string
	ProviderID string
}

// idTokenClaims はIDトークンのクレーム。
type idTokenClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
	jwt.RegisteredClaims
}

// TokenVerifier はIdPが発行したRS256のIDトークンを検証する。
type TokenVerifier struct {
	issuer   string
	audience string
	keys     *jwksCache
}

// NewTokenVerifier はprojectIDのIDトークンを検証するTokenVerifierを生成する。
// jwksURLが空の場合はDefaultJWKSURLを使う。
func NewTokenVerifier(httpClient *http.Client, projectID, jwksURL string) *TokenVerifier {
	if jwksURL == "" {
		jwksURL = DefaultJWKSURL
	}
	return &TokenVerifier{
		issuer:   "https://securetoken.google.com/" + projectID,
		audience: projectID,
		keys:     newJWKSCache(httpClient, jwksURL, jwksCacheTTL),
	}
}

// Verify はIDトークンの署名・発行者・対象者・有効期限を検証する。
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*TokenClaims, error) {
	claims := &idTokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}
		return v.keys.getKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return &TokenClaims{
		UID:        claims.Subject,
		Email:      claims.Email,
		Name:       claims.Name,
		Picture:    claims.Picture,
		ProviderID: claims.Firebase.SignInProvider,
	}, nil
}

// jwksCache はJWKSの公開鍵をkidごとにキャッシュする。
type jwksCache struct {
	httpClient *http.Client
	url        string
	ttl        time.Duration

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func newJWKSCache(httpClient *http.Client, url string, ttl time.Duration) *jwksCache {
	return &jwksCache{
		httpClient: httpClient,
		url:        url,
		ttl:        ttl,
		keys:       make(map[string]*rsa.PublicKey),
	}
}

func (c *jwksCache) getKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	if time.Since(c.fetched) < c.ttl {
		if key, ok := c.keys[kid]; ok {
			c.mu.RUnlock()
			return key, nil
		}
	}
	c.mu.RUnlock()

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

func (c *jwksCache) refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 書き込みロック取得までに他のgoroutineが更新済みの場合
	if time.Since(c.fetched) < c.ttl && len(c.keys) > 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []jwkKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		key, err := parseRSAPublicKey(k)
		if err != nil {
			slog.Warn("JWKSの鍵の解析に失敗しました",
				slog.String("kid", k.Kid),
				slog.String("error", err.Error()),
			)
			continue
		}
		keys[k.Kid] = key
	}

	c.keys = keys
	c.fetched = time.Now()
	return nil
}

func parseRSAPublicKey(k jwkKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode N: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode E: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
