package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token verification failures. Callers that face clients collapse all three
// into one generic rejection; the distinction is for logs and metrics.
var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenBadSignature = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
)

// MaxLeeway bounds the clock-skew window accepted by NewTokenProvider.
const MaxLeeway = 2 * time.Minute

// Claims is the token payload: subject, issued-at, expiry, jti, issuer and audience.
type Claims struct {
	jwt.RegisteredClaims
}

// IssuedToken is a freshly signed token and its claims.
type IssuedToken struct {
	Token     string
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// VerifiedToken is the identity asserted by a token that passed Verify.
type VerifiedToken struct {
	ID        string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenConfig configures a TokenProvider. Secret is used for HS256 unless a
// PrivateKey/PublicKey pair is given, which selects RS256 or ES256.
type TokenConfig struct {
	Secret     []byte
	PrivateKey crypto.Signer
	PublicKey  crypto.PublicKey
	Issuer     string
	Audience   string
	TTL        time.Duration
	Leeway     time.Duration
}

// TokenProvider issues and verifies signed bearer tokens. It is immutable and
// safe for concurrent use.
type TokenProvider struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  string
	ttl       time.Duration
	leeway    time.Duration
}

// NewTokenProvider validates cfg and returns a TokenProvider.
func NewTokenProvider(cfg TokenConfig) (*TokenProvider, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if cfg.Leeway < 0 || cfg.Leeway > MaxLeeway {
		return nil, errors.New("token leeway must be between 0 and 2m")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("token issuer and audience are required")
	}
	p := &TokenProvider{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TTL,
		leeway:   cfg.Leeway,
	}
	if cfg.PrivateKey != nil {
		switch cfg.PrivateKey.Public().(type) {
		case *rsa.PublicKey:
			p.method = jwt.SigningMethodRS256
		case *ecdsa.PublicKey:
			p.method = jwt.SigningMethodES256
		default:
			return nil, ErrInvalidKey
		}
		if cfg.PublicKey == nil || KeyAlg(cfg.PublicKey) != p.method.Alg() {
			return nil, ErrInvalidKey
		}
		p.signKey = cfg.PrivateKey
		p.verifyKey = cfg.PublicKey
		return p, nil
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	p.method = jwt.SigningMethodHS256
	p.signKey = secret
	p.verifyKey = secret
	return p, nil
}

// TTL returns the token lifetime.
func (p *TokenProvider) TTL() time.Duration { return p.ttl }

// Algorithm returns the JWS alg used for signing.
func (p *TokenProvider) Algorithm() string { return p.method.Alg() }

// Issue signs a token for subject with iat=now and exp=now+TTL.
func (p *TokenProvider) Issue(subject string, now time.Time) (IssuedToken, error) {
	if subject == "" {
		return IssuedToken{}, errors.New("token subject is required")
	}
	now = now.UTC()
	jti := uuid.New().String()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(p.ttl))
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   subject,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
	}
	signed, err := jwt.NewWithClaims(p.method, claims).SignedString(p.signKey)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{
		Token:     signed,
		ID:        jti,
		Subject:   subject,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
	}, nil
}

// Verify checks signature, structure and validity window as of now. It returns
// exactly one of ErrTokenMalformed, ErrTokenBadSignature or ErrTokenExpired on failure.
func (p *TokenProvider) Verify(token string, now time.Time) (*VerifiedToken, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{p.method.Alg()}),
		jwt.WithLeeway(p.leeway),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.verifyKey, nil
	})
	if err != nil {
		return nil, p.classify(token, err)
	}
	if !parsed.Valid || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	return &VerifiedToken{
		ID:        claims.ID,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// classify maps jwt/v5 errors onto the three token failure kinds.
func (p *TokenProvider) classify(token string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		// Header and claims decode but the signature segment does not: the
		// token was tampered with rather than being structurally unusable.
		if headerAndClaimsIntact(token) {
			return ErrTokenBadSignature
		}
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}

// headerAndClaimsIntact reports whether token has three segments whose first
// two are strict base64url JSON objects.
func headerAndClaimsIntact(token string) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	for _, seg := range parts[:2] {
		raw, err := base64.RawURLEncoding.Strict().DecodeString(seg)
		if err != nil {
			return false
		}
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
			return false
		}
	}
	return true
}
