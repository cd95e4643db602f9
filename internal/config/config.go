// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session store backends.
const (
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

// Password hashing algorithms.
const (
	HashArgon2id = "argon2id"
	HashBcrypt   = "bcrypt"
)

// Concurrent session policies.
const (
	SessionPolicyMultiple = "multiple"
	SessionPolicySingle   = "single"
	SessionPolicyLimit    = "limit"
)

// MaxTokenLeeway bounds TOKEN_LEEWAY.
const MaxTokenLeeway = 2 * time.Minute

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment ("development", "production", ...).
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :9090). Empty disables gRPC.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs users on the in-memory repository (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `mapstructure:"MIGRATE_ON_START"`

	// ServerSecret signs HS256 tokens and keys session lookups. Required.
	ServerSecret string `mapstructure:"SERVER_SECRET"`
	// JWTPrivateKey is an optional PEM private key (inline or path); switches signing to RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM public key paired with JWTPrivateKey.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// TokenIssuer is the iss claim.
	TokenIssuer string `mapstructure:"TOKEN_ISSUER"`
	// TokenAudience is the aud claim.
	TokenAudience string `mapstructure:"TOKEN_AUDIENCE"`
	// TokenTTLRaw is the token lifetime (e.g. "1h").
	TokenTTLRaw string `mapstructure:"TOKEN_TTL"`
	// TokenLeewayRaw is the clock-skew window applied to exp/iat checks (e.g. "30s").
	TokenLeewayRaw string `mapstructure:"TOKEN_LEEWAY"`

	// HashAlgorithm selects the password hash for new hashes: argon2id or bcrypt.
	HashAlgorithm string `mapstructure:"HASH_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Argon2MemoryKiB is the argon2id memory cost in KiB.
	Argon2MemoryKiB int `mapstructure:"ARGON2_MEMORY_KIB"`
	// Argon2Iterations is the argon2id time cost.
	Argon2Iterations int `mapstructure:"ARGON2_ITERATIONS"`
	// Argon2Parallelism is the argon2id lane count.
	Argon2Parallelism int `mapstructure:"ARGON2_PARALLELISM"`
	// HashConcurrency caps concurrent hash computations; 0 means GOMAXPROCS.
	HashConcurrency int `mapstructure:"HASH_CONCURRENCY"`

	// SessionBackend selects the session store: memory, redis or postgres.
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	// SessionTTLRaw caps session lifetime below the token TTL; "0" keeps the token expiry.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// SessionPolicy is the concurrent-login policy: multiple, single or limit.
	SessionPolicy string `mapstructure:"SESSION_POLICY"`
	// MaxSessionsPerUser is the live-session cap used by SessionPolicy=limit.
	MaxSessionsPerUser int `mapstructure:"MAX_SESSIONS_PER_USER"`
	// SessionSweepIntervalRaw is how often expired sessions are purged (memory/postgres).
	SessionSweepIntervalRaw string `mapstructure:"SESSION_SWEEP_INTERVAL"`

	// RedisAddr is host:port of the Redis server used when SessionBackend=redis.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database.
	RedisDB int `mapstructure:"REDIS_DB"`
	// RedisKeyPrefix namespaces session keys.
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// LoginPolicyPath is an optional rego file replacing the default login admission policy.
	LoginPolicyPath string `mapstructure:"LOGIN_POLICY_PATH"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. A missing or default
// SERVER_SECRET is reported as *ConfigurationError.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATE_ON_START", false)
	v.SetDefault("SERVER_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("TOKEN_ISSUER", "pyracms")
	v.SetDefault("TOKEN_AUDIENCE", "pyracms-api")
	v.SetDefault("TOKEN_TTL", "1h")
	v.SetDefault("TOKEN_LEEWAY", "30s")
	v.SetDefault("HASH_ALGORITHM", HashArgon2id)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("HASH_CONCURRENCY", 0)
	v.SetDefault("SESSION_BACKEND", SessionBackendMemory)
	v.SetDefault("SESSION_TTL", "0")
	v.SetDefault("SESSION_POLICY", SessionPolicyMultiple)
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "pyracms")
	v.SetDefault("LOGIN_POLICY_PATH", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "pyracms-identity")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values. It is called by Load and again by cmd/server
// after command-line overrides are applied.
func (c *Config) Validate() error {
	if err := ValidateSecret(c.ServerSecret, c.IsDevelopment()); err != nil {
		return err
	}
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if (c.JWTPrivateKey == "") != (c.JWTPublicKey == "") {
		return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
	}

	ttl, err := parsePositive("TOKEN_TTL", c.TokenTTLRaw)
	if err != nil {
		return err
	}
	leeway, err := time.ParseDuration(c.TokenLeewayRaw)
	if err != nil || leeway < 0 || leeway > MaxTokenLeeway {
		return fmt.Errorf("config: TOKEN_LEEWAY must be a duration between 0 and %s", MaxTokenLeeway)
	}
	sessionTTL, err := time.ParseDuration(c.SessionTTLRaw)
	if err != nil || sessionTTL < 0 {
		return errors.New("config: SESSION_TTL must be a non-negative duration")
	}
	if sessionTTL > ttl {
		return errors.New("config: SESSION_TTL must not exceed TOKEN_TTL")
	}
	if _, err := parsePositive("SESSION_SWEEP_INTERVAL", c.SessionSweepIntervalRaw); err != nil {
		return err
	}

	switch c.HashAlgorithm {
	case HashArgon2id, HashBcrypt:
	default:
		return fmt.Errorf("config: HASH_ALGORITHM must be %s or %s", HashArgon2id, HashBcrypt)
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.Argon2MemoryKiB < 8*1024 {
		return errors.New("config: ARGON2_MEMORY_KIB must be at least 8192")
	}
	if c.Argon2Iterations < 1 {
		return errors.New("config: ARGON2_ITERATIONS must be at least 1")
	}
	if c.Argon2Parallelism < 1 || c.Argon2Parallelism > 255 {
		return errors.New("config: ARGON2_PARALLELISM must be between 1 and 255")
	}
	if c.HashConcurrency < 0 {
		return errors.New("config: HASH_CONCURRENCY must not be negative")
	}

	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	case SessionBackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when SESSION_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("config: SESSION_BACKEND must be one of %s, %s, %s",
			SessionBackendMemory, SessionBackendRedis, SessionBackendPostgres)
	}
	if c.SessionBackend == SessionBackendRedis && c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR must be set when SESSION_BACKEND=redis")
	}

	switch c.SessionPolicy {
	case SessionPolicyMultiple, SessionPolicySingle:
	case SessionPolicyLimit:
		if c.MaxSessionsPerUser < 1 {
			return errors.New("config: MAX_SESSIONS_PER_USER must be at least 1 when SESSION_POLICY=limit")
		}
	default:
		return fmt.Errorf("config: SESSION_POLICY must be one of %s, %s, %s",
			SessionPolicyMultiple, SessionPolicySingle, SessionPolicyLimit)
	}
	return nil
}

// IsDevelopment reports whether APP_ENV selects a development deployment.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Env)) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// TokenTTL parses TokenTTLRaw. Returns 1h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.TokenTTLRaw)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// TokenLeeway parses TokenLeewayRaw. Returns 0 if unset or invalid.
func (c *Config) TokenLeeway() time.Duration {
	d, err := time.ParseDuration(c.TokenLeewayRaw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SessionTTL parses SessionTTLRaw. Zero means sessions live as long as their token.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTLRaw)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// SessionSweepInterval parses SessionSweepIntervalRaw. Returns 1m if unset or invalid.
func (c *Config) SessionSweepInterval() time.Duration {
	d, err := time.ParseDuration(c.SessionSweepIntervalRaw)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// EffectiveHashConcurrency returns HashConcurrency, defaulting to GOMAXPROCS.
func (c *Config) EffectiveHashConcurrency() int {
	if c.HashConcurrency > 0 {
		return c.HashConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

func parsePositive(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration", key)
	}
	return d, nil
}
