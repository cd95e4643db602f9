package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// SessionKeyer derives the session-store key for a token. Stores index sessions
// by this key so raw bearer tokens are never persisted, and a leaked store
// cannot be replayed without the server secret.
type SessionKeyer struct {
	secret []byte
}

// NewSessionKeyer returns a keyer using secret as the HMAC key.
func NewSessionKeyer(secret []byte) (*SessionKeyer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session key secret is required")
	}
	s := make([]byte, len(secret))
	copy(s, secret)
	return &SessionKeyer{secret: s}, nil
}

// Key returns hex(HMAC-SHA256(secret, token)).
func (k *SessionKeyer) Key(token string) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal reports whether token derives storedKey, comparing in constant time.
func (k *SessionKeyer) Equal(token, storedKey string) bool {
	return hmac.Equal([]byte(k.Key(token)), []byte(storedKey))
}
