package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSKey is one JSON Web Key.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

var errUnknownKey = errors.New("signing key not found in JWKS")

// JWKSCache holds the RSA signing keys of the hospital login. Keys are
// refetched after ttl, or earlier when a token names a kid the cache has not
// seen, but never more often than minRefresh.
type JWKSCache struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *resty.Client

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewJWKSCache(jwksURL string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    jwksURL,
		ttl:    ttl,
		client: resty.New().SetTimeout(10 * time.Second),
		keys:   map[string]*rsa.PublicKey{},
	}
}

// GetKey returns the public key for kid.
func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	age := time.Since(c.fetchedAt)
	key, ok := c.keys[kid]
	stale := c.fetchedAt.IsZero() || age >= c.ttl
	if ok && !stale {
		return key, nil
	}
	if !stale && age < c.minRefresh {
		return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
	}

	keys, err := c.fetch()
	if err != nil {
		if ok {
			// keep serving the last known key while the endpoint is down
			return key, nil
		}
		return nil, fmt.Errorf("refresh JWKS: %w", err)
	}
	c.keys = keys
	c.fetchedAt = time.Now()

	if key, ok = keys[kid]; !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
	}
	return key, nil
}

func (c *JWKSCache) fetch() (map[string]*rsa.PublicKey, error) {
	var doc JWKSResponse
	resp, err := c.client.R().SetResult(&doc).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", c.url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode())
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if pub, err := parseRSAPublicKey(k); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func parseRSAPublicKey(k JWKSKey) (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if len(n) == 0 || !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("key %q is not a usable RSA key", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}

const (
	defaultJWKSCacheTTL = 5 * time.Minute
	jwksMinRefresh      = 10 * time.Second
)

func jwksKeyFunc(jwksURL string) jwt.Keyfunc {
	cache := NewJWKSCache(jwksURL, defaultJWKSCacheTTL)
	cache.minRefresh = jwksMinRefresh
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return cache.GetKey(kid)
	}
}

// discoverJWKSURL reads jwks_uri from the issuer's OpenID configuration.
func discoverJWKSURL(issuer string) (string, error) {
	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"
	resp, err := resty.New().SetTimeout(10 * time.Second).R().SetResult(&doc).Get(url)
	switch {
	case err != nil:
		return "", fmt.Errorf("fetch OIDC discovery document: %w", err)
	case resp.IsError():
		return "", fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode())
	case doc.JWKSURI == "":
		return "", errors.New("OIDC discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}
