package security

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a password hashing algorithm.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// ErrPasswordTooLong is returned by Hash when bcrypt would silently truncate the input.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// HasherConfig selects the algorithm and cost for new hashes.
type HasherConfig struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2id   Argon2idParams
	// Concurrency caps simultaneous hash computations; 0 means GOMAXPROCS.
	Concurrency int
}

// Hasher hashes and verifies passwords. New hashes use the configured algorithm;
// Verify accepts any supported algorithm, identified by the stored hash prefix.
// Callers must not log or persist plaintext passwords.
type Hasher struct {
	algorithm Algorithm
	cost      int
	argon     Argon2idParams
	slots     chan struct{}
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg HasherConfig) (*Hasher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmArgon2id
	}
	switch cfg.Algorithm {
	case AlgorithmArgon2id:
		if err := cfg.Argon2id.validate(); err != nil {
			return nil, err
		}
	case AlgorithmBcrypt:
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
	cost := cfg.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Hasher{
		algorithm: cfg.Algorithm,
		cost:      cost,
		argon:     cfg.Argon2id,
		slots:     make(chan struct{}, n),
	}, nil
}

// Algorithm returns the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm { return h.algorithm }

// Hash produces a salted hash of password suitable for storage. Two calls on the
// same password return different strings.
func (h *Hasher) Hash(ctx context.Context, password []byte) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	switch h.algorithm {
	case AlgorithmBcrypt:
		if len(password) > 72 {
			return "", ErrPasswordTooLong
		}
		b, err := bcrypt.GenerateFromPassword(password, h.cost)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return argon2idHash(password, h.argon)
	}
}

// Verify reports whether password matches stored. Malformed, foreign-format or
// out-of-bounds hashes return false. A cancelled ctx also returns false.
func (h *Hasher) Verify(ctx context.Context, password []byte, stored string) bool {
	if err := h.acquire(ctx); err != nil {
		return false
	}
	defer h.release()

	switch {
	case strings.HasPrefix(stored, argon2idPrefix):
		return argon2idVerify(password, stored)
	case isBcrypt(stored):
		return bcrypt.CompareHashAndPassword([]byte(stored), password) == nil
	default:
		return false
	}
}

// NeedsRehash reports whether stored was produced with another algorithm or
// weaker parameters than the current configuration.
func (h *Hasher) NeedsRehash(stored string) bool {
	switch h.algorithm {
	case AlgorithmBcrypt:
		if !isBcrypt(stored) {
			return true
		}
		cost, err := bcrypt.Cost([]byte(stored))
		return err != nil || cost < h.cost
	default:
		p, _, _, err := parseArgon2id(stored)
		if err != nil {
			return true
		}
		return p.MemoryKiB < h.argon.MemoryKiB ||
			p.Iterations < h.argon.Iterations ||
			p.Parallelism < h.argon.Parallelism ||
			p.KeyLength < h.argon.KeyLength
	}
}

func (h *Hasher) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case h.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hasher) release() { <-h.slots }

func isBcrypt(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") ||
		strings.HasPrefix(stored, "$2b$") ||
		strings.HasPrefix(stored, "$2y$")
}
