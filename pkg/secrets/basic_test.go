package secrets_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitest-cli/apitest/pkg/secrets"
)

func newTestBasicProvider(t *testing.T) *secrets.BasicProvider {
	t.Helper()
	provider, err := secrets.NewBasicProvider(filepath.Join(t.TempDir(), "secrets"))
	require.NoError(t, err)
	return provider
}

func TestBasicProvider_SetGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := newTestBasicProvider(t)

	require.NoError(t, provider.SetSecret(ctx, "api-token", "s3cr3t"))

	value, err := provider.GetSecret(ctx, "api-token")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)

	require.NoError(t, provider.DeleteSecret(ctx, "api-token"))

	_, err = provider.GetSecret(ctx, "api-token")
	require.Error(t, err)
	assert.True(t, secrets.IsNotFoundError(err))
}

func TestBasicProvider_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets")

	first, err := secrets.NewBasicProvider(path)
	require.NoError(t, err)
	require.NoError(t, first.SetSecret(ctx, "persisted", "value"))

	second, err := secrets.NewBasicProvider(path)
	require.NoError(t, err)

	value, err := second.GetSecret(ctx, "persisted")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestBasicProvider_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := newTestBasicProvider(t)

	_, err := provider.GetSecret(ctx, "")
	assert.ErrorContains(t, err, "secret name cannot be empty")

	err = provider.SetSecret(ctx, "", "value")
	assert.ErrorContains(t, err, "secret name cannot be empty")

	err = provider.DeleteSecret(ctx, "missing")
	assert.ErrorContains(t, err, "cannot delete non-existent secret")
}

func TestBasicProvider_ListAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	provider := newTestBasicProvider(t)

	require.NoError(t, provider.SetSecret(ctx, "one", "1"))
	require.NoError(t, provider.SetSecret(ctx, "two", "2"))

	descriptions, err := provider.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Len(t, descriptions, 2)

	require.NoError(t, provider.Cleanup())

	descriptions, err = provider.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Empty(t, descriptions)
}

func TestBasicProvider_Capabilities(t *testing.T) {
	t.Parallel()
	provider := newTestBasicProvider(t)

	caps := provider.Capabilities()
	assert.True(t, caps.IsReadWrite())
	assert.True(t, caps.CanList)
	assert.Equal(t, "read-write", caps.String())
}
