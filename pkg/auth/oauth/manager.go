package oauth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/apitest-cli/apitest/pkg/auth"
	"github.com/apitest-cli/apitest/pkg/errors"
	"github.com/apitest-cli/apitest/pkg/logger"
	"github.com/apitest-cli/apitest/pkg/networking"
)

const (
	// defaultExpiryMargin is how far ahead of expiry a cached token is
	// already considered stale.
	defaultExpiryMargin = 30 * time.Second

	// defaultMaxAttempts bounds token endpoint calls, including the first.
	defaultMaxAttempts = 3

	// defaultBackoffBase is the delay before the first retry; it doubles on
	// each subsequent attempt.
	defaultBackoffBase = time.Second

	maxResponseBytes = 1 << 20
)

// Manager obtains, caches and refreshes OAuth2 tokens for auth chain
// candidates, minimizing token endpoint round-trips. It is safe for
// concurrent use: in-flight fetches for the same cache key are collapsed,
// while distinct keys proceed in parallel.
type Manager struct {
	cache        *TokenCache
	client       *http.Client
	group        singleflight.Group
	now          func() time.Time
	expiryMargin time.Duration
	maxAttempts  uint
	backoffBase  time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithExpiryMargin sets the freshness safety margin for cached tokens.
func WithExpiryMargin(margin time.Duration) Option {
	return func(m *Manager) { m.expiryMargin = margin }
}

// WithRetryPolicy sets the total attempt cap and base delay for token
// endpoint calls.
func WithRetryPolicy(maxAttempts uint, base time.Duration) Option {
	return func(m *Manager) {
		m.maxAttempts = maxAttempts
		m.backoffBase = base
	}
}

// NewManager creates a token manager over the given cache.
func NewManager(cache *TokenCache, opts ...Option) *Manager {
	m := &Manager{
		cache:        cache,
		now:          time.Now,
		expiryMargin: defaultExpiryMargin,
		maxAttempts:  defaultMaxAttempts,
		backoffBase:  defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client == nil {
		client, err := networking.NewHTTPClientBuilder().Build()
		if err != nil {
			// The builder only fails for bad CA bundles, which the default
			// configuration does not set.
			client = &http.Client{Timeout: networking.HTTPTimeout}
		}
		m.client = client
	}
	return m
}

// GetToken returns a currently-valid access token for the spec. The lookup
// order is: fresh cached token, refresh grant on a stale record with a
// refresh token, full fetch. Refresh failures are never final; a full fetch
// is always attempted. A failed full fetch yields an oauth_fetch error, which
// the chain resolver treats as an unusable candidate.
func (m *Manager) GetToken(ctx context.Context, spec *auth.OAuth2Spec) (string, error) {
	key := CacheKey(spec)

	value, err, _ := m.group.Do(key, func() (any, error) {
		return m.token(ctx, spec, key)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate evicts the cached token for the spec.
func (m *Manager) Invalidate(ctx context.Context, spec *auth.OAuth2Spec) error {
	return m.cache.Invalidate(ctx, CacheKey(spec))
}

func (m *Manager) token(ctx context.Context, spec *auth.OAuth2Spec, key string) (string, error) {
	cached, err := m.cache.Get(ctx, key)
	if err != nil {
		// Store unavailable: degrade to fetching fresh every time.
		logger.Warnw("token cache unavailable, fetching fresh token", "cache_key", key, "error", err)
		cached = nil
	}

	if cached != nil && m.fresh(cached) {
		logger.Debugw("token cache hit", "cache_key", key)
		return cached.AccessToken, nil
	}

	if cached != nil && cached.RefreshToken != "" {
		token, refreshErr := m.refresh(ctx, spec, cached, key)
		if refreshErr == nil {
			return token, nil
		}
		if ctx.Err() != nil {
			// Cancelled mid-refresh: leave the cache untouched.
			return "", refreshErr
		}
		logger.Debugw("token refresh failed, falling back to full fetch", "cache_key", key, "error", refreshErr)
		if err := m.cache.Invalidate(ctx, key); err != nil {
			logger.Warnw("failed to invalidate stale token", "cache_key", key, "error", err)
		}
	} else if cached != nil {
		logger.Debugw("cached token expired with no refresh token", "cache_key", key)
	} else {
		logger.Debugw("token cache miss", "cache_key", key)
	}

	return m.fetch(ctx, spec, key)
}

// fresh reports whether a cached record can be used without a network call.
// A record without expiry metadata never expires on its own; it is only
// evicted when the target API rejects it.
func (m *Manager) fresh(token *CachedToken) bool {
	if token.ExpiresAt == nil {
		return true
	}
	return m.now().Add(m.expiryMargin).Before(*token.ExpiresAt)
}

// refresh performs a refresh-grant call and replaces the cached record.
func (m *Manager) refresh(ctx context.Context, spec *auth.OAuth2Spec, cached *CachedToken, key string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", cached.RefreshToken)
	form.Set("client_id", spec.ClientID)
	form.Set("client_secret", spec.ClientSecret)
	if spec.Scope != "" {
		form.Set("scope", spec.Scope)
	}

	resp, err := m.requestToken(ctx, spec.TokenURL, form)
	if err != nil {
		return "", err
	}

	record := m.record(resp, key)
	if record.RefreshToken == "" {
		// The provider omitted a new refresh token; retain the prior one.
		record.RefreshToken = cached.RefreshToken
	}

	if err := m.cache.Put(ctx, key, record); err != nil {
		logger.Warnw("failed to cache refreshed token", "cache_key", key, "error", err)
	}
	logger.Debugw("token refreshed", "cache_key", key)
	return record.AccessToken, nil
}

// fetch performs a full token fetch using the spec's grant type.
func (m *Manager) fetch(ctx context.Context, spec *auth.OAuth2Spec, key string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", string(spec.GrantType))
	form.Set("client_id", spec.ClientID)
	form.Set("client_secret", spec.ClientSecret)
	if spec.GrantType == auth.GrantPassword {
		form.Set("username", spec.Username)
		form.Set("password", spec.Password)
	}
	if spec.Scope != "" {
		form.Set("scope", spec.Scope)
	}

	resp, err := m.requestToken(ctx, spec.TokenURL, form)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		if _, ok := AsFetchError(err); !ok {
			err = NewFetchError(0, err.Error())
		}
		return "", errors.NewOAuthFetchError(
			fmt.Sprintf("token fetch failed for %s grant", spec.GrantType), err)
	}

	record := m.record(resp, key)
	if err := m.cache.Put(ctx, key, record); err != nil {
		logger.Warnw("failed to cache fetched token", "cache_key", key, "error", err)
	}
	logger.Debugw("token fetched", "cache_key", key, "grant_type", spec.GrantType)
	return record.AccessToken, nil
}

// tokenResponse is the relevant subset of an RFC 6749 token response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// record builds a fully validated cache record from a token response.
func (m *Manager) record(resp *tokenResponse, key string) CachedToken {
	issuedAt := m.now()
	token := CachedToken{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     issuedAt,
		CacheKey:     key,
	}
	if resp.ExpiresIn > 0 {
		expiresAt := issuedAt.Add(time.Duration(resp.ExpiresIn) * time.Second)
		token.ExpiresAt = &expiresAt
	}
	return token
}

// requestToken POSTs a form-encoded grant request to the token endpoint.
// Network errors, 5xx and 429 responses are retried with exponential backoff
// up to the attempt cap; other 4xx responses fail immediately.
func (m *Manager) requestToken(ctx context.Context, tokenURL string, form url.Values) (*tokenResponse, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = m.backoffBase
	expBackoff.RandomizationFactor = 0
	expBackoff.Multiplier = 2

	attempt := 0
	operation := func() (*tokenResponse, error) {
		attempt++

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			logger.Debugw("token endpoint request failed", "attempt", attempt, "error", err)
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			fetchErr := &FetchError{StatusCode: resp.StatusCode, Body: string(body)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				logger.Debugw("token endpoint returned retryable status",
					"attempt", attempt, "status", resp.StatusCode)
				return nil, fetchErr
			}
			return nil, backoff.Permanent(fetchErr)
		}

		var parsed tokenResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("malformed token response: %w", err))
		}
		if parsed.AccessToken == "" {
			return nil, backoff.Permanent(stderrors.New("token response missing access_token"))
		}
		return &parsed, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(m.maxAttempts),
	)
}
