package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// User is a registered account. PasswordHash is the algorithm-tagged hash
// produced by security.Hasher; plaintext passwords never reach this type.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// ValidateUsername checks the username charset and length.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if !usernamePattern.MatchString(username) {
		return errors.New("username must be 3-32 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidateEmail checks the email shape.
func ValidateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return errors.New("invalid email format")
	}
	return nil
}

// NormalizeEmail lowercases and trims email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if err := ValidateUsername(u.Username); err != nil {
		return err
	}
	if err := ValidateEmail(u.Email); err != nil {
		return err
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
