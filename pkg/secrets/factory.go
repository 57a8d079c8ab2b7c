package secrets

import (
	"errors"
	"os"

	"github.com/apitest-cli/apitest/pkg/logger"
)

// ProviderEnvVar is the environment variable used to specify the secrets provider type.
const ProviderEnvVar = "APITEST_SECRETS_PROVIDER"

// DisableEnvFallbackVar opts out of environment variable fallback for reads.
const DisableEnvFallbackVar = "APITEST_DISABLE_ENV_FALLBACK"

// ProviderType represents an enum of the types of available secrets providers.
type ProviderType string

const (
	// KeyringType represents the OS keyring secret provider.
	KeyringType ProviderType = "keyring"

	// BasicType represents the plain file secret provider.
	BasicType ProviderType = "basic"

	// EnvironmentType represents the environment variable secret provider.
	EnvironmentType ProviderType = "environment"
)

// ErrUnknownProviderType is returned when an invalid value for ProviderType is specified.
var ErrUnknownProviderType = errors.New("unknown secret provider type")

// CreateSecretProvider creates the specified type of secrets provider.
func CreateSecretProvider(providerType ProviderType) (Provider, error) {
	var primary Provider

	switch providerType {
	case KeyringType:
		primary = NewKeyringProvider()
	case BasicType:
		basic, err := NewDefaultBasicProvider()
		if err != nil {
			return nil, err
		}
		primary = basic
	case EnvironmentType:
		// Direct environment provider - no fallback needed
		return NewEnvironmentProvider(), nil
	default:
		return nil, ErrUnknownProviderType
	}

	// Wrap with fallback provider if enabled
	if shouldEnableFallback() {
		return NewFallbackProvider(primary), nil
	}

	return primary, nil
}

// CreateDefaultProvider creates a provider based on the APITEST_SECRETS_PROVIDER
// environment variable, defaulting to the OS keyring. When the keyring is not
// functional, it degrades to the plain file provider with a warning.
func CreateDefaultProvider() (Provider, error) {
	if configured := os.Getenv(ProviderEnvVar); configured != "" {
		return CreateSecretProvider(ProviderType(configured))
	}

	kp := NewKeyringProvider()
	if kp.IsAvailable() {
		if shouldEnableFallback() {
			return NewFallbackProvider(kp), nil
		}
		return kp, nil
	}

	logger.Warn("OS keyring is not available; falling back to unencrypted file storage")
	return CreateSecretProvider(BasicType)
}

// shouldEnableFallback determines if environment variable fallback should be enabled
func shouldEnableFallback() bool {
	// Check for explicit opt-out
	if os.Getenv(DisableEnvFallbackVar) == "true" {
		return false
	}

	// Enable by default for non-environment providers
	return true
}
