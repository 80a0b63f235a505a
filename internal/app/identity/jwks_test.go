package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"

	"transferd/internal/app/apperr"
)

func newKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func jwksHandler(keys map[string]*rsa.PrivateKey, hits *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		doc := jwksDocument{}
		for kid, key := range keys {
			pub := key.Public().(*rsa.PublicKey)
			doc.Keys = append(doc.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
			})
		}
		_ = json.NewEncoder(w).Encode(doc)
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestVerifyValidToken(t *testing.T) {
	key := newKeyPair(t)
	srv := httptest.NewServer(jwksHandler(map[string]*rsa.PrivateKey{"k1": key}, nil))
	defer srv.Close()

	v := NewJWKS(srv.URL)

	token := signToken(t, key, "k1", jwt.MapClaims{
		"sub":          "user-1",
		"is_superuser": true,
		"exp":          time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.Subject != "user-1" {
		t.Errorf("subject = %s, want user-1", id.Subject)
	}
	if !id.Superuser {
		t.Error("superuser claim lost")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	key := newKeyPair(t)
	imposter := newKeyPair(t)
	srv := httptest.NewServer(jwksHandler(map[string]*rsa.PrivateKey{"k1": key}, nil))
	defer srv.Close()

	v := NewJWKS(srv.URL)

	token := signToken(t, imposter, "k1", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	key := newKeyPair(t)
	srv := httptest.NewServer(jwksHandler(map[string]*rsa.PrivateKey{"k1": key}, nil))
	defer srv.Close()

	v := NewJWKS(srv.URL)

	token := signToken(t, key, "k1", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := v.Verify(context.Background(), token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestVerifyForcesRefreshOnUnknownKid(t *testing.T) {
	old := newKeyPair(t)
	rotated := newKeyPair(t)

	keys := map[string]*rsa.PrivateKey{"old": old}
	hits := 0
	srv := httptest.NewServer(jwksHandler(keys, &hits))
	defer srv.Close()

	v := NewJWKS(srv.URL, WithCacheTTL(time.Hour))

	// warm the cache with the old key set
	warm := signToken(t, old, "old", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), warm); err != nil {
		t.Fatalf("warm verify: %v", err)
	}

	// rotate keys server-side; the cached set does not know "new" yet
	keys["new"] = rotated

	token := signToken(t, rotated, "new", jwt.MapClaims{
		"sub": "user-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if id.Subject != "user-2" {
		t.Errorf("subject = %s, want user-2", id.Subject)
	}
	if hits < 2 {
		t.Errorf("jwks fetched %d times, want forced refresh", hits)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(jwksHandler(map[string]*rsa.PrivateKey{}, nil))
	defer srv.Close()

	v := NewJWKS(srv.URL)

	if _, err := v.Verify(context.Background(), "not-a-token"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}
