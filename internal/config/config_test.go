package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	os.Clearenv()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"SERVER_SECRET": testSecret})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.TokenIssuer != "pyracms" {
		t.Errorf("TokenIssuer = %q, want %q", cfg.TokenIssuer, "pyracms")
	}
	if cfg.TokenAudience != "pyracms-api" {
		t.Errorf("TokenAudience = %q, want %q", cfg.TokenAudience, "pyracms-api")
	}
	if cfg.TokenTTL() != time.Hour {
		t.Errorf("TokenTTL = %v, want 1h", cfg.TokenTTL())
	}
	if cfg.TokenLeeway() != 30*time.Second {
		t.Errorf("TokenLeeway = %v, want 30s", cfg.TokenLeeway())
	}
	if cfg.HashAlgorithm != HashArgon2id {
		t.Errorf("HashAlgorithm = %q, want %q", cfg.HashAlgorithm, HashArgon2id)
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Errorf("SessionBackend = %q, want %q", cfg.SessionBackend, SessionBackendMemory)
	}
	if cfg.SessionPolicy != SessionPolicyMultiple {
		t.Errorf("SessionPolicy = %q, want %q", cfg.SessionPolicy, SessionPolicyMultiple)
	}
	if cfg.SessionTTL() != 0 {
		t.Errorf("SessionTTL = %v, want 0", cfg.SessionTTL())
	}
	if cfg.SessionSweepInterval() != time.Minute {
		t.Errorf("SessionSweepInterval = %v, want 1m", cfg.SessionSweepInterval())
	}
	if cfg.EffectiveHashConcurrency() < 1 {
		t.Errorf("EffectiveHashConcurrency = %d, want >= 1", cfg.EffectiveHashConcurrency())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	setEnv(t, map[string]string{
		"SERVER_SECRET":         testSecret,
		"HTTP_ADDR":             ":7070",
		"TOKEN_TTL":             "2h",
		"TOKEN_LEEWAY":          "5s",
		"HASH_ALGORITHM":        "bcrypt",
		"BCRYPT_COST":           "10",
		"SESSION_POLICY":        "limit",
		"MAX_SESSIONS_PER_USER": "3",
		"SESSION_TTL":           "30m",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":7070")
	}
	if cfg.TokenTTL() != 2*time.Hour {
		t.Errorf("TokenTTL = %v, want 2h", cfg.TokenTTL())
	}
	if cfg.TokenLeeway() != 5*time.Second {
		t.Errorf("TokenLeeway = %v, want 5s", cfg.TokenLeeway())
	}
	if cfg.HashAlgorithm != HashBcrypt || cfg.BcryptCost != 10 {
		t.Errorf("hash = %q/%d, want bcrypt/10", cfg.HashAlgorithm, cfg.BcryptCost)
	}
	if cfg.SessionPolicy != SessionPolicyLimit || cfg.MaxSessionsPerUser != 3 {
		t.Errorf("policy = %q/%d, want limit/3", cfg.SessionPolicy, cfg.MaxSessionsPerUser)
	}
	if cfg.SessionTTL() != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want 30m", cfg.SessionTTL())
	}
}

func TestLoad_MissingSecretIsConfigurationError(t *testing.T) {
	setEnv(t, map[string]string{})

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load without SERVER_SECRET: want *ConfigurationError, got %v", err)
	}
	if cfgErr.Key != "SERVER_SECRET" {
		t.Errorf("Key = %q, want SERVER_SECRET", cfgErr.Key)
	}
}

func TestLoad_DefaultSecretRejectedEvenInDevelopment(t *testing.T) {
	setEnv(t, map[string]string{
		"APP_ENV":       "development",
		"SERVER_SECRET": "CHANGE_THIS_SECRET_KEY_IN_PRODUCTION",
	})

	_, err := Load()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("want *ConfigurationError, got %v", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantSub string
	}{
		{"bad leeway", map[string]string{"TOKEN_LEEWAY": "5m"}, "TOKEN_LEEWAY"},
		{"negative leeway", map[string]string{"TOKEN_LEEWAY": "-1s"}, "TOKEN_LEEWAY"},
		{"bad ttl", map[string]string{"TOKEN_TTL": "forever"}, "TOKEN_TTL"},
		{"session ttl above token ttl", map[string]string{"TOKEN_TTL": "1h", "SESSION_TTL": "2h"}, "SESSION_TTL"},
		{"unknown algorithm", map[string]string{"HASH_ALGORITHM": "md5"}, "HASH_ALGORITHM"},
		{"bcrypt cost", map[string]string{"BCRYPT_COST": "40"}, "BCRYPT_COST"},
		{"argon2 memory", map[string]string{"ARGON2_MEMORY_KIB": "1024"}, "ARGON2_MEMORY_KIB"},
		{"unknown backend", map[string]string{"SESSION_BACKEND": "etcd"}, "SESSION_BACKEND"},
		{"postgres without dsn", map[string]string{"SESSION_BACKEND": "postgres"}, "DATABASE_URL"},
		{"unknown policy", map[string]string{"SESSION_POLICY": "random"}, "SESSION_POLICY"},
		{"limit without max", map[string]string{"SESSION_POLICY": "limit", "MAX_SESSIONS_PER_USER": "0"}, "MAX_SESSIONS_PER_USER"},
		{"half key pair", map[string]string{"JWT_PRIVATE_KEY": "key.pem"}, "JWT_PRIVATE_KEY"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := map[string]string{"SERVER_SECRET": testSecret}
			for k, v := range tc.env {
				env[k] = v
			}
			setEnv(t, env)
			_, err := Load()
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error = %q, want it to mention %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestDurationHelpers_Fallbacks(t *testing.T) {
	cfg := &Config{TokenTTLRaw: "bogus", TokenLeewayRaw: "bogus", SessionTTLRaw: "bogus", SessionSweepIntervalRaw: ""}
	if cfg.TokenTTL() != time.Hour {
		t.Errorf("TokenTTL fallback = %v", cfg.TokenTTL())
	}
	if cfg.TokenLeeway() != 0 {
		t.Errorf("TokenLeeway fallback = %v", cfg.TokenLeeway())
	}
	if cfg.SessionTTL() != 0 {
		t.Errorf("SessionTTL fallback = %v", cfg.SessionTTL())
	}
	if cfg.SessionSweepInterval() != time.Minute {
		t.Errorf("SessionSweepInterval fallback = %v", cfg.SessionSweepInterval())
	}
}
