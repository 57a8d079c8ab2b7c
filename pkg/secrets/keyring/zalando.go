package keyring

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	zkeyring "github.com/zalando/go-keyring"
)

// zalandoProvider wraps the zalando/go-keyring library, which talks to the
// macOS Keychain, the Windows Credential Manager, or the freedesktop Secret
// Service over D-Bus depending on the platform.
type zalandoProvider struct{}

// NewProvider returns the default OS keyring provider.
func NewProvider() Provider {
	return &zalandoProvider{}
}

// Set stores a key-value pair in the keyring
func (*zalandoProvider) Set(service, key, value string) error {
	return zkeyring.Set(service, key, value)
}

// Get retrieves a value from the keyring
func (*zalandoProvider) Get(service, key string) (string, error) {
	value, err := zkeyring.Get(service, key)
	if err != nil {
		if errors.Is(err, zkeyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Delete removes a specific key from the keyring
func (*zalandoProvider) Delete(service, key string) error {
	err := zkeyring.Delete(service, key)
	if errors.Is(err, zkeyring.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// IsAvailable tests if this keyring backend is functional by writing and
// removing a probe key.
func (*zalandoProvider) IsAvailable() bool {
	testKey := generateUniqueTestKey()

	if err := zkeyring.Set("apitest-availability-check", testKey, "test"); err != nil {
		return false
	}

	_ = zkeyring.Delete("apitest-availability-check", testKey)
	return true
}

// Name returns a human-readable name for this backend
func (*zalandoProvider) Name() string {
	return "OS Keyring"
}

// generateUniqueTestKey creates a unique key name used for keyring
// availability checks. It combines a timestamp and random bytes to prevent
// naming collisions when multiple checks run concurrently.
func generateUniqueTestKey() string {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("apitest-keyring-test-%d", time.Now().UnixNano())
	}

	return fmt.Sprintf("apitest-keyring-test-%d-%x", time.Now().UnixNano(), randomBytes)
}
