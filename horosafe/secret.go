// Package horosafe holds the security primitives lander shares between its
// admin surface and its outbound notifiers: secret validation and matching,
// URL safety checks against SSRF, identifier checks and bounded reads.
package horosafe

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinSecretLen is the minimum acceptable length for symmetric secrets (admin
// trigger secret, webhook HMAC keys). 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// ErrSecretTooShort is returned when a secret does not meet MinSecretLen.
var ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)

// ErrSecretMismatch is returned by SecretMatcher.Match on a wrong secret.
var ErrSecretMismatch = errors.New("horosafe: secret mismatch")

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// SecretMatcher compares presented secrets against a configured one. The
// configured value is either the plain secret or a bcrypt hash of it
// ("$2a$", "$2b$" or "$2y$" prefix).
type SecretMatcher struct {
	plain []byte
	hash  []byte
}

// NewSecretMatcher builds a matcher. Plain secrets must satisfy
// ValidateSecret; hashes are checked for bcrypt cost only.
func NewSecretMatcher(configured string) (*SecretMatcher, error) {
	if isBcrypt(configured) {
		if _, err := bcrypt.Cost([]byte(configured)); err != nil {
			return nil, fmt.Errorf("horosafe: bad bcrypt hash: %w", err)
		}
		return &SecretMatcher{hash: []byte(configured)}, nil
	}
	if err := ValidateSecret([]byte(configured)); err != nil {
		return nil, err
	}
	return &SecretMatcher{plain: []byte(configured)}, nil
}

// Match returns nil when presented equals the configured secret.
func (m *SecretMatcher) Match(presented string) error {
	if presented == "" {
		return ErrSecretMismatch
	}
	if m.hash != nil {
		if bcrypt.CompareHashAndPassword(m.hash, []byte(presented)) != nil {
			return ErrSecretMismatch
		}
		return nil
	}
	if subtle.ConstantTimeCompare(m.plain, []byte(presented)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
