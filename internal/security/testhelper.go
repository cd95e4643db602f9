package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// TestSecret is a fixed HS256 secret for unit tests only. Do not use in production.
const TestSecret = "pyracms-unit-test-secret-0123456789abcdef"

// NewTestTokenProvider returns an HS256 TokenProvider keyed with TestSecret.
// For unit tests only.
func NewTestTokenProvider(ttl, leeway time.Duration) (*TokenProvider, error) {
	return NewTokenProvider(TokenConfig{
		Secret:   []byte(TestSecret),
		Issuer:   "test-issuer",
		Audience: "test-audience",
		TTL:      ttl,
		Leeway:   leeway,
	})
}

// NewTestHasher returns an argon2id Hasher with the cheapest parameters
// NewHasher accepts, so tests stay fast. For unit tests only.
func NewTestHasher() *Hasher {
	h, err := NewHasher(HasherConfig{
		Algorithm: AlgorithmArgon2id,
		Argon2id: Argon2idParams{
			MemoryKiB:   8 * 1024,
			Iterations:  1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		Concurrency: 4,
	})
	if err != nil {
		panic(err)
	}
	return h
}

// GenerateTestKeyPEM creates a fresh key pair and returns it PEM-encoded
// (PKCS#8 private, PKIX public). alg is "RS256" or "ES256". For unit tests only.
func GenerateTestKeyPEM(alg string) (privatePEM, publicPEM string, err error) {
	var priv any
	var pub any
	switch alg {
	case "RS256":
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return "", "", err
		}
		priv, pub = k, &k.PublicKey
	case "ES256":
		k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return "", "", err
		}
		priv, pub = k, &k.PublicKey
	default:
		return "", "", fmt.Errorf("unsupported test key alg %q", alg)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", "", err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", err
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	return privatePEM, publicPEM, nil
}
