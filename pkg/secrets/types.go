// Package secrets contains the secrets management logic for apitest.
package secrets

import (
	"context"
	"errors"
	"strings"
)

// ErrSecretNotFound indicates that the requested secret does not exist.
var ErrSecretNotFound = errors.New("secret not found")

// ProviderCapabilities represents what operations a secrets provider supports.
type ProviderCapabilities struct {
	CanRead    bool
	CanWrite   bool
	CanDelete  bool
	CanList    bool
	CanCleanup bool
}

// IsReadOnly returns true if the provider only supports read operations.
func (pc ProviderCapabilities) IsReadOnly() bool {
	return pc.CanRead && !pc.CanWrite && !pc.CanDelete && !pc.CanCleanup
}

// IsReadWrite returns true if the provider supports both read and write operations.
func (pc ProviderCapabilities) IsReadWrite() bool {
	return pc.CanRead && pc.CanWrite
}

// String returns a human-readable description of the capabilities.
func (pc ProviderCapabilities) String() string {
	if pc.IsReadWrite() {
		return "read-write"
	}
	if pc.IsReadOnly() {
		return "read-only"
	}
	return "custom"
}

// Provider describes a type which can manage secrets.
type Provider interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
	ListSecrets(ctx context.Context) ([]SecretDescription, error)
	Cleanup() error
	// Capabilities returns what operations this provider supports
	Capabilities() ProviderCapabilities
}

// SecretDescription is returned by `ListSecrets`.
type SecretDescription struct {
	// Key is the unique identifier for the secret, used when retrieving it.
	Key string `json:"key"`
	// Description provides a human-readable description of the secret.
	// May be empty if no description is available.
	Description string `json:"description"`
}

// IsNotFoundError checks if an error indicates a secret was not found.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSecretNotFound) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "non-existent") ||
		strings.Contains(errStr, "does not exist")
}
