package networking

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientBuilderDefaults(t *testing.T) {
	t.Parallel()

	client, err := NewHTTPClientBuilder().Build()
	require.NoError(t, err)
	assert.Equal(t, HTTPTimeout, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, transport.TLSHandshakeTimeout)
	assert.Equal(t, 10*time.Second, transport.ResponseHeaderTimeout)
}

func TestHTTPClientBuilderWithTimeout(t *testing.T) {
	t.Parallel()

	client, err := NewHTTPClientBuilder().WithTimeout(5 * time.Second).Build()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestHTTPClientBuilderBadCABundle(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPClientBuilder().WithCABundle("/nonexistent/ca.pem").Build()
	assert.ErrorContains(t, err, "failed to read CA certificate bundle")
}
