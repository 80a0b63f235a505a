// Package identity consumes the platform's identity collaborator: given a
// bearer credential it yields the subject id and role, verified against the
// collaborator's published JWKS. Everything else about authentication is out
// of this service's hands.
package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"

	"transferd/internal/app/apperr"
	"transferd/internal/app/logger"
)

// Identity is the verified caller.
type Identity struct {
	Subject   string
	Superuser bool
}

type Verifier interface {
	// Verify a bearer credential, yielding the caller's identity
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Verifier interface implementation
var _ Verifier = (*JWKS)(nil)

// JWKS verifies RS256 tokens against a remote key set. Keys are cached for a
// bounded interval; an unknown key id forces a refresh before the token is
// rejected, so key rotation does not require a restart.
type JWKS struct {
	url        string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     logger.Logger

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func (j *JWKS) LoggerComponent() string {
	return "Identity.JWKS"
}

func NewJWKS(url string, opts ...JWKSOption) *JWKS {
	j := &JWKS{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   300 * time.Second,
		keys:       make(map[string]*rsa.PublicKey),
	}
	j.logger = logger.Global().Component(j)

	for _, o := range opts {
		o(j)
	}

	return j
}

type JWKSOption func(*JWKS)

func WithHTTPClient(hc *http.Client) JWKSOption {
	return func(j *JWKS) {
		j.httpClient = hc
	}
}

func WithCacheTTL(ttl time.Duration) JWKSOption {
	return func(j *JWKS) {
		j.cacheTTL = ttl
	}
}

// Verify method of Verifier implementation
func (j *JWKS) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	claims := jwt.MapClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}

		kid, _ := t.Header["kid"].(string)
		return j.key(ctx, kid)
	})
	if err != nil {
		j.logger.Debug().Err(err).Msg("Token verification failed")
		return nil, apperr.ErrUnauthorized
	}
	if !token.Valid {
		return nil, apperr.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, apperr.ErrUnauthorized
	}
	superuser, _ := claims["is_superuser"].(bool)

	return &Identity{
		Subject:   sub,
		Superuser: superuser,
	}, nil
}

// key returns the public key for the key id, refreshing the cache when it is
// stale or when the kid is unknown locally.
func (j *JWKS) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stale := time.Since(j.fetchedAt) > j.cacheTTL || len(j.keys) == 0
	if stale {
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if k, ok := j.lookup(kid); ok {
		return k, nil
	}

	// unknown kid: forced refresh before giving up, keys may have rotated
	if !stale {
		if err := j.refresh(ctx); err != nil {
			return nil, err
		}
		if k, ok := j.lookup(kid); ok {
			return k, nil
		}
	}

	return nil, fmt.Errorf("no key for kid %q", kid)
}

// lookup falls back to any cached key when the token carries no kid.
// Callers must hold j.mu.
func (j *JWKS) lookup(kid string) (*rsa.PublicKey, bool) {
	if k, ok := j.keys[kid]; ok {
		return k, true
	}
	if kid == "" {
		for _, k := range j.keys {
			return k, true
		}
	}

	return nil, false
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// refresh replaces the cached key set. Callers must hold j.mu.
func (j *JWKS) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	res, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode >= 400 {
		return fmt.Errorf("jwks fetch: status %d", res.StatusCode)
	}

	doc := &jwksDocument{}
	if err := json.NewDecoder(res.Body).Decode(doc); err != nil {
		return fmt.Errorf("jwks decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			j.logger.Warn().Err(err).Str("kid", k.Kid).Msg("Skipping malformed JWK")
			continue
		}
		keys[k.Kid] = pub
	}

	j.keys = keys
	j.fetchedAt = time.Now()
	j.logger.Debug().Int("keys", len(keys)).Msg("JWKS refreshed")

	return nil
}

func (k jwk) publicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus decode: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent decode: %w", err)
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
