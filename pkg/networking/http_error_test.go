package networking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewHTTPError(404, "https://example.com/thing", "not found")
	assert.Equal(t, "HTTP 404 for URL https://example.com/thing: not found", err.Error())
}

func TestIsHTTPError(t *testing.T) {
	t.Parallel()

	err := NewHTTPError(429, "https://example.com", "slow down")
	wrapped := fmt.Errorf("request failed: %w", err)

	assert.True(t, IsHTTPError(err, 429))
	assert.True(t, IsHTTPError(wrapped, 429))
	assert.True(t, IsHTTPError(err, 0))
	assert.False(t, IsHTTPError(err, 500))
	assert.False(t, IsHTTPError(errors.New("plain"), 0))
	assert.False(t, IsHTTPError(nil, 0))
}
