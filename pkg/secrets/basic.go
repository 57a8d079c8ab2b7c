package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"

	"github.com/adrg/xdg"
)

// BasicProvider is a simple secrets provider that stores secrets in an
// unencrypted file. This is for testing/development purposes only.
type BasicProvider struct {
	filePath string
	secrets  map[string]string
	mu       sync.RWMutex // Protects concurrent access to secrets map
}

// NewBasicProvider creates a BasicProvider reading from the given file,
// creating it if necessary.
func NewBasicProvider(filePath string) (*BasicProvider, error) {
	filePath = path.Clean(filePath)
	// #nosec G304: File path comes from the XDG data dir or test config.
	secretsFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	stat, err := secretsFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat secrets file: %w", err)
	}

	var stored map[string]string
	if stat.Size() == 0 {
		stored = make(map[string]string)
	} else {
		var contents fileStructure
		if err := json.NewDecoder(secretsFile).Decode(&contents); err != nil {
			return nil, fmt.Errorf("failed to decode secrets file: %w", err)
		}
		stored = contents.Secrets
	}

	return &BasicProvider{
		filePath: filePath,
		secrets:  stored,
	}, nil
}

// NewDefaultBasicProvider creates a BasicProvider with the default file path
// under the XDG data directory.
func NewDefaultBasicProvider() (*BasicProvider, error) {
	secretsPath, err := xdg.DataFile("apitest/secrets")
	if err != nil {
		return nil, fmt.Errorf("unable to access secrets file path: %w", err)
	}
	return NewBasicProvider(secretsPath)
}

// GetSecret retrieves a secret from the secret store.
func (b *BasicProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// SetSecret stores a secret in the secret store.
func (b *BasicProvider) SetSecret(_ context.Context, name, value string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.secrets[name] = value
	return b.updateFile()
}

// DeleteSecret removes a secret from the secret store.
func (b *BasicProvider) DeleteSecret(_ context.Context, name string) error {
	if name == "" {
		return errors.New("secret name cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.secrets[name]; !exists {
		return fmt.Errorf("cannot delete non-existent secret: %s", name)
	}

	delete(b.secrets, name)
	return b.updateFile()
}

// ListSecrets returns a list of all secret names stored in the provider.
func (b *BasicProvider) ListSecrets(_ context.Context) ([]SecretDescription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	descriptions := make([]SecretDescription, 0, len(b.secrets))
	for name := range b.secrets {
		descriptions = append(descriptions, SecretDescription{Key: name})
	}

	return descriptions, nil
}

// Cleanup removes all secrets managed by this provider.
func (b *BasicProvider) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.secrets = make(map[string]string)
	return b.updateFile()
}

// Capabilities returns the operations supported by the basic provider.
func (*BasicProvider) Capabilities() ProviderCapabilities {
	return ProviderCapabilities{
		CanRead:    true,
		CanWrite:   true,
		CanDelete:  true,
		CanList:    true,
		CanCleanup: true,
	}
}

func (b *BasicProvider) updateFile() error {
	contents, err := json.Marshal(fileStructure{Secrets: b.secrets})
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	secretsFile, err := os.OpenFile(b.filePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer secretsFile.Close()

	if _, err = secretsFile.Write(contents); err != nil {
		return fmt.Errorf("failed to write secrets to file: %w", err)
	}
	return nil
}

// fileStructure is the structure of the secrets file.
type fileStructure struct {
	Secrets map[string]string `json:"secrets"`
}
