package config

import (
	"fmt"
	"strings"
)

// MinSecretLength is the minimum SERVER_SECRET length outside development.
const MinSecretLength = 32

// knownDefaultSecrets are placeholder values shipped in samples and old builds.
// A deployment using one of them signs tokens anyone can forge.
var knownDefaultSecrets = []string{
	"CHANGE_THIS_SECRET_KEY_IN_PRODUCTION",
	"changeme",
	"change-me",
	"change_me",
	"secret",
	"default",
	"password",
	"your-secret-key",
	"your_secret_key",
	"jwt-secret",
	"supersecret",
}

// ConfigurationError reports configuration the process must not start with.
// It is fatal at startup and must never be replaced by a fallback value.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// ValidateSecret rejects an empty, placeholder or (outside development) short server secret.
func ValidateSecret(secret string, development bool) error {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return &ConfigurationError{Key: "SERVER_SECRET", Reason: "must be set"}
	}
	for _, known := range knownDefaultSecrets {
		if strings.EqualFold(trimmed, known) {
			return &ConfigurationError{Key: "SERVER_SECRET", Reason: "must not be a known default value"}
		}
	}
	if !development && len(secret) < MinSecretLength {
		return &ConfigurationError{
			Key:    "SERVER_SECRET",
			Reason: fmt.Sprintf("must be at least %d bytes outside development", MinSecretLength),
		}
	}
	return nil
}
