package oauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
	"github.com/apitest-cli/apitest/pkg/secrets"
)

// CachedToken is one token record persisted in the credential store.
// Records are replaced whole on refresh, never edited in place.
type CachedToken struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IssuedAt     time.Time  `json:"issued_at"`
	CacheKey     string     `json:"cache_key"`
}

// TokenCache stores CachedToken records in a secrets provider, keyed by the
// composite cache key. Store failures surface as store_unavailable errors;
// the token manager treats those as "no cache" so a locked or missing
// credential store degrades to fetching a fresh token every time.
type TokenCache struct {
	store secrets.Provider
}

// NewTokenCache creates a cache backed by the given secrets provider.
func NewTokenCache(store secrets.Provider) *TokenCache {
	return &TokenCache{store: store}
}

// Get returns the cached record for key, or nil when absent.
func (c *TokenCache) Get(ctx context.Context, key string) (*CachedToken, error) {
	raw, err := c.store.GetSecret(ctx, key)
	if err != nil {
		if secrets.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.NewStoreUnavailableError("failed to read cached token", err)
	}

	var token CachedToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		// A corrupt record is useless; treat it as a miss so the manager
		// overwrites it with a fresh fetch.
		logger.Warnw("discarding corrupt cached token record", "cache_key", key, "error", err)
		return nil, nil
	}
	return &token, nil
}

// Put overwrites any existing record for key. Records must only ever be
// written fully validated; partially populated tokens never reach the store.
func (c *TokenCache) Put(ctx context.Context, key string, token CachedToken) error {
	token.CacheKey = key

	raw, err := json.Marshal(token)
	if err != nil {
		return errors.NewInternalError("failed to serialize token record", err)
	}

	if err := c.store.SetSecret(ctx, key, string(raw)); err != nil {
		return errors.NewStoreUnavailableError("failed to write cached token", err)
	}
	return nil
}

// Invalidate removes the record for key. Removing an absent record is not an
// error.
func (c *TokenCache) Invalidate(ctx context.Context, key string) error {
	err := c.store.DeleteSecret(ctx, key)
	if err == nil || secrets.IsNotFoundError(err) {
		return nil
	}
	return errors.NewStoreUnavailableError("failed to invalidate cached token", err)
}
