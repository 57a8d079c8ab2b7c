package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/apitest-cli/apitest/pkg/secrets/keyring"
)

// keyringService is the service name all apitest secrets are stored under.
const keyringService = "apitest"

// KeyringProvider stores secrets in the OS-native keyring (macOS Keychain,
// Windows Credential Manager, Linux Secret Service).
type KeyringProvider struct {
	backend keyring.Provider
	service string
}

// NewKeyringProvider creates a provider backed by the default OS keyring.
func NewKeyringProvider() *KeyringProvider {
	return NewKeyringProviderWithBackend(keyring.NewProvider())
}

// NewKeyringProviderWithBackend creates a keyring provider with a custom
// backend. This allows for dependency injection in tests.
func NewKeyringProviderWithBackend(backend keyring.Provider) *KeyringProvider {
	return &KeyringProvider{
		backend: backend,
		service: keyringService,
	}
}

// GetSecret retrieves a secret from the keyring.
func (k *KeyringProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	value, err := k.backend.Get(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("keyring unavailable: %w", err)
	}
	return value, nil
}

// SetSecret stores a secret in the keyring.
func (k *KeyringProvider) SetSecret(_ context.Context, name, value string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	if err := k.backend.Set(k.service, name, value); err != nil {
		return fmt.Errorf("keyring unavailable: %w", err)
	}
	return nil
}

// DeleteSecret removes a secret from the keyring.
func (k *KeyringProvider) DeleteSecret(_ context.Context, name string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	err := k.backend.Delete(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("cannot delete non-existent secret: %s", name)
		}
		return fmt.Errorf("keyring unavailable: %w", err)
	}
	return nil
}

// ListSecrets is not supported by OS keyring backends; the Secret Service and
// Keychain APIs expose no portable enumeration.
func (*KeyringProvider) ListSecrets(_ context.Context) ([]SecretDescription, error) {
	return nil, errors.New("listing secrets is not supported by the keyring provider")
}

// Cleanup is a no-op for the keyring provider.
func (*KeyringProvider) Cleanup() error {
	return nil
}

// Capabilities returns the operations supported by the keyring provider.
func (*KeyringProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		CanRead:   true,
		CanWrite:  true,
		CanDelete: true,
	}
}

// IsAvailable reports whether the OS keyring backend is functional.
func (k *KeyringProvider) IsAvailable() bool {
	return k.backend.IsAvailable()
}
