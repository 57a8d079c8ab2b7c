// Package oauth implements the OAuth2 token lifecycle: obtaining, caching
// and refreshing tokens for the auth chain.
package oauth

import (
	"errors"
	"fmt"
)

const maxBodyPreview = 512

// FetchError represents a token endpoint rejecting a fetch or refresh.
// StatusCode is 0 when the endpoint could not be reached at all.
type FetchError struct {
	// StatusCode is the HTTP status returned by the token endpoint.
	StatusCode int

	// Body is the (possibly truncated) response body.
	Body string
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("token endpoint unreachable: %s", e.Body)
	}
	return fmt.Sprintf("token endpoint returned HTTP %d: %s", e.StatusCode, preview(e.Body))
}

// NewFetchError creates a new FetchError.
func NewFetchError(statusCode int, body string) error {
	return &FetchError{StatusCode: statusCode, Body: body}
}

// AsFetchError extracts a FetchError from an error chain.
func AsFetchError(err error) (*FetchError, bool) {
	var fetchErr *FetchError
	ok := errors.As(err, &fetchErr)
	return fetchErr, ok
}

func preview(body string) string {
	if len(body) > maxBodyPreview {
		return body[:maxBodyPreview] + "..."
	}
	return body
}
