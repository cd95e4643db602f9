package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2idPrefix = "$argon2id$"

// Argon2idParams are the argon2id cost parameters embedded in every PHC hash.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2idParams returns interactive-login defaults (64 MiB, 3 passes, 2 lanes).
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		MemoryKiB:   64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Verification ceilings. A stored hash asking for more than this is refused
// instead of being computed.
const (
	maxVerifyMemoryKiB  = 1024 * 1024
	maxVerifyIterations = 16
	maxVerifyKeyLength  = 128
	maxVerifySaltLength = 64
)

var errInvalidPHC = errors.New("invalid argon2id hash")

func (p Argon2idParams) validate() error {
	if p.MemoryKiB < 8*1024 {
		return errors.New("argon2id: memory must be at least 8192 KiB")
	}
	if p.Iterations < 1 {
		return errors.New("argon2id: iterations must be at least 1")
	}
	if p.Parallelism < 1 {
		return errors.New("argon2id: parallelism must be at least 1")
	}
	if p.SaltLength < 16 {
		return errors.New("argon2id: salt length must be at least 16")
	}
	if p.KeyLength < 16 {
		return errors.New("argon2id: key length must be at least 16")
	}
	return nil
}

func argon2idHash(password []byte, p Argon2idParams) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	key := argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		p.MemoryKiB, p.Iterations, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func argon2idVerify(password []byte, encoded string) bool {
	p, salt, key, err := parseArgon2id(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(got, key) == 1
}

// parseArgon2id decodes $argon2id$v=19$m=..,t=..,p=..$salt$hash and enforces
// the verification ceilings.
func parseArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	var p Argon2idParams
	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, errInvalidPHC
	}
	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, errInvalidPHC
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return p, nil, nil, errInvalidPHC
	}

	var seen int
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return p, nil, nil, errInvalidPHC
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return p, nil, nil, errInvalidPHC
		}
		switch name {
		case "m":
			p.MemoryKiB = uint32(n)
		case "t":
			p.Iterations = uint32(n)
		case "p":
			if n > 255 {
				return p, nil, nil, errInvalidPHC
			}
			p.Parallelism = uint8(n)
		default:
			return p, nil, nil, errInvalidPHC
		}
		seen++
	}
	if seen != 3 || p.MemoryKiB == 0 || p.Iterations == 0 || p.Parallelism == 0 {
		return p, nil, nil, errInvalidPHC
	}
	if p.MemoryKiB > maxVerifyMemoryKiB || p.Iterations > maxVerifyIterations {
		return p, nil, nil, errInvalidPHC
	}

	salt, err := base64.RawStdEncoding.Strict().DecodeString(parts[4])
	if err != nil || len(salt) == 0 || len(salt) > maxVerifySaltLength {
		return p, nil, nil, errInvalidPHC
	}
	key, err := base64.RawStdEncoding.Strict().DecodeString(parts[5])
	if err != nil || len(key) < 16 || len(key) > maxVerifyKeyLength {
		return p, nil, nil, errInvalidPHC
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
