package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// EnvVarPrefix is the prefix for environment variables used as secrets.
const EnvVarPrefix = "APITEST_SECRET_"

// EnvironmentProvider reads secrets from environment variables with the
// APITEST_SECRET_ prefix. It is read-only.
type EnvironmentProvider struct {
	prefix string
}

// NewEnvironmentProvider creates a new environment variable secrets provider.
func NewEnvironmentProvider() *EnvironmentProvider {
	return &EnvironmentProvider{prefix: EnvVarPrefix}
}

// GetSecret retrieves a secret from environment variables.
func (e *EnvironmentProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	value, ok := os.LookupEnv(e.prefix + name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// SetSecret is not supported for environment variables.
func (*EnvironmentProvider) SetSecret(_ context.Context, _, _ string) error {
	return errors.New("environment provider is read-only: cannot set secrets")
}

// DeleteSecret is not supported for environment variables.
func (*EnvironmentProvider) DeleteSecret(_ context.Context, _ string) error {
	return errors.New("environment provider is read-only: cannot delete secrets")
}

// ListSecrets returns all secrets available via prefixed environment variables.
func (e *EnvironmentProvider) ListSecrets(_ context.Context) ([]SecretDescription, error) {
	var descriptions []SecretDescription
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, e.prefix) {
			continue
		}
		name, _, _ := strings.Cut(strings.TrimPrefix(env, e.prefix), "=")
		descriptions = append(descriptions, SecretDescription{
			Key:         name,
			Description: "environment variable " + e.prefix + name,
		})
	}
	return descriptions, nil
}

// Cleanup is a no-op for the environment provider.
func (*EnvironmentProvider) Cleanup() error {
	return nil
}

// Capabilities returns the operations supported by the environment provider.
func (*EnvironmentProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		CanRead: true,
		CanList: true,
	}
}
