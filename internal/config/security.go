package config

import (
	"fmt"

	"github.com/johndoe6345789/pyracms-core/internal/security"
)

// HasherConfig returns the password hasher settings.
func (c *Config) HasherConfig() security.HasherConfig {
	argon := security.DefaultArgon2idParams()
	argon.MemoryKiB = uint32(c.Argon2MemoryKiB)
	argon.Iterations = uint32(c.Argon2Iterations)
	argon.Parallelism = uint8(c.Argon2Parallelism)
	return security.HasherConfig{
		Algorithm:   security.Algorithm(c.HashAlgorithm),
		BcryptCost:  c.BcryptCost,
		Argon2id:    argon,
		Concurrency: c.EffectiveHashConcurrency(),
	}
}

// TokenConfig returns the token issuer settings. When a key pair is
// configured it is parsed here, so a bad PEM is reported at startup.
func (c *Config) TokenConfig() (security.TokenConfig, error) {
	tc := security.TokenConfig{
		Secret:   []byte(c.ServerSecret),
		Issuer:   c.TokenIssuer,
		Audience: c.TokenAudience,
		TTL:      c.TokenTTL(),
		Leeway:   c.TokenLeeway(),
	}
	if c.JWTPrivateKey == "" {
		return tc, nil
	}
	priv, err := security.ParsePrivateKey(c.JWTPrivateKey)
	if err != nil {
		return tc, &ConfigurationError{Key: "JWT_PRIVATE_KEY", Reason: fmt.Sprintf("is invalid: %v", err)}
	}
	pub, err := security.ParsePublicKey(c.JWTPublicKey)
	if err != nil {
		return tc, &ConfigurationError{Key: "JWT_PUBLIC_KEY", Reason: fmt.Sprintf("is invalid: %v", err)}
	}
	tc.PrivateKey = priv
	tc.PublicKey = pub
	return tc, nil
}
