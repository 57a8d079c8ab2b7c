package oauth_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitest-cli/apitest/pkg/auth"
	"github.com/apitest-cli/apitest/pkg/auth/oauth"
	apierrors "github.com/apitest-cli/apitest/pkg/errors"
)

// tokenEndpoint is a fake OAuth token endpoint that counts requests by grant
// type and lets tests script responses.
type tokenEndpoint struct {
	mu        sync.Mutex
	fetches   int
	refreshes int
	requests  []time.Time
	lastForm  map[string]string

	// handle overrides the default 200 response when set. It returns the
	// status code and body to send.
	handle func(grantType string, callNum int) (int, string)

	server *httptest.Server
}

func newTokenEndpoint(t *testing.T) *tokenEndpoint {
	t.Helper()
	e := &tokenEndpoint{}
	e.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		e.mu.Lock()
		e.requests = append(e.requests, time.Now())
		grantType := r.PostForm.Get("grant_type")
		if grantType == "refresh_token" {
			e.refreshes++
		} else {
			e.fetches++
		}
		e.lastForm = map[string]string{}
		for k := range r.PostForm {
			e.lastForm[k] = r.PostForm.Get(k)
		}
		callNum := len(e.requests)
		handle := e.handle
		e.mu.Unlock()

		if handle != nil {
			status, body := handle(grantType, callNum)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("token-%d", callNum),
			"refresh_token": fmt.Sprintf("refresh-%d", callNum),
			"expires_in":    3600,
			"token_type":    "Bearer",
		})
	}))
	t.Cleanup(e.server.Close)
	return e
}

func (e *tokenEndpoint) counts() (fetches, refreshes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetches, e.refreshes
}

func (e *tokenEndpoint) form() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastForm
}

func (e *tokenEndpoint) requestTimes() []time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	times := make([]time.Time, len(e.requests))
	copy(times, e.requests)
	return times
}

func clientCredentialsSpec(tokenURL string) *auth.OAuth2Spec {
	return &auth.OAuth2Spec{
		GrantType:    auth.GrantClientCredentials,
		TokenURL:     tokenURL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Scope:        "read",
	}
}

func seedCachedToken(t *testing.T, store *memoryStore, spec *auth.OAuth2Spec, token oauth.CachedToken) {
	t.Helper()
	cache := oauth.NewTokenCache(store)
	require.NoError(t, cache.Put(context.Background(), oauth.CacheKey(spec), token))
}

func TestGetTokenFetchesAndCaches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	store := newMemoryStore()
	manager := oauth.NewManager(oauth.NewTokenCache(store))

	spec := clientCredentialsSpec(endpoint.server.URL)

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	form := endpoint.form()
	assert.Equal(t, "client_credentials", form["grant_type"])
	assert.Equal(t, "client-1", form["client_id"])
	assert.Equal(t, "secret-1", form["client_secret"])
	assert.Equal(t, "read", form["scope"])

	// Second call is served from the cache with no network activity.
	token, err = manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	fetches, refreshes := endpoint.counts()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 0, refreshes)
}

func TestGetTokenPasswordGrantForm(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	manager := oauth.NewManager(oauth.NewTokenCache(newMemoryStore()))

	spec := &auth.OAuth2Spec{
		GrantType:    auth.GrantPassword,
		TokenURL:     endpoint.server.URL,
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		Username:     "alice",
		Password:     "pw",
	}

	_, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)

	form := endpoint.form()
	assert.Equal(t, "password", form["grant_type"])
	assert.Equal(t, "alice", form["username"])
	assert.Equal(t, "pw", form["password"])
	assert.NotContains(t, form, "scope")
}

func TestGetTokenRefreshesExpiredToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)

	expired := time.Now().Add(-time.Hour)
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken:  "stale",
		RefreshToken: "refresh-old",
		ExpiresAt:    &expired,
		IssuedAt:     time.Now().Add(-2 * time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	// Exactly one refresh call, no full fetch.
	fetches, refreshes := endpoint.counts()
	assert.Equal(t, 0, fetches)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, "refresh-old", endpoint.form()["refresh_token"])
}

func TestRefreshPreservesPriorRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	endpoint.handle = func(_ string, _ int) (int, string) {
		// Response omits refresh_token.
		return 200, `{"access_token": "new-access", "expires_in": 3600}`
	}

	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)
	expired := time.Now().Add(-time.Hour)
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken:  "stale",
		RefreshToken: "refresh-keep",
		ExpiresAt:    &expired,
		IssuedAt:     time.Now().Add(-2 * time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "new-access", token)

	cached, err := oauth.NewTokenCache(store).Get(ctx, oauth.CacheKey(spec))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "refresh-keep", cached.RefreshToken)
}

func TestExpiredTokenWithoutRefreshTokenTriggersFullFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)

	expired := time.Now().Add(-time.Hour)
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken: "stale",
		ExpiresAt:   &expired,
		IssuedAt:    time.Now().Add(-2 * time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	fetches, refreshes := endpoint.counts()
	assert.Equal(t, 1, fetches)
	assert.Equal(t, 0, refreshes)
}

func TestRefreshFailureInvalidatesAndFetches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	endpoint.handle = func(grantType string, _ int) (int, string) {
		if grantType == "refresh_token" {
			return 400, `{"error": "invalid_grant"}`
		}
		return 200, `{"access_token": "fresh", "expires_in": 3600}`
	}

	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)
	expired := time.Now().Add(-time.Hour)
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken:  "stale",
		RefreshToken: "refresh-dead",
		ExpiresAt:    &expired,
		IssuedAt:     time.Now().Add(-2 * time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	fetches, refreshes := endpoint.counts()
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 1, fetches)

	// The stale record was replaced by the fresh fetch.
	cached, err := oauth.NewTokenCache(store).Get(ctx, oauth.CacheKey(spec))
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "fresh", cached.AccessToken)
	assert.Empty(t, cached.RefreshToken)
}

func TestFetchFailureIsOAuthFetchError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	endpoint.handle = func(_ string, _ int) (int, string) {
		return 401, `{"error": "invalid_client"}`
	}

	manager := oauth.NewManager(oauth.NewTokenCache(newMemoryStore()))

	_, err := manager.GetToken(ctx, clientCredentialsSpec(endpoint.server.URL))
	require.Error(t, err)
	assert.True(t, apierrors.IsOAuthFetch(err))

	fetchErr, ok := oauth.AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, 401, fetchErr.StatusCode)
	assert.Contains(t, fetchErr.Body, "invalid_client")

	// Non-retryable 4xx must not be retried.
	fetches, _ := endpoint.counts()
	assert.Equal(t, 1, fetches)
}

func TestRetryOn429WithBackoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	endpoint.handle = func(_ string, callNum int) (int, string) {
		if callNum <= 2 {
			return 429, `{"error": "slow_down"}`
		}
		return 200, `{"access_token": "eventually", "expires_in": 3600}`
	}

	manager := oauth.NewManager(oauth.NewTokenCache(newMemoryStore()),
		oauth.WithRetryPolicy(3, 50*time.Millisecond))

	token, err := manager.GetToken(ctx, clientCredentialsSpec(endpoint.server.URL))
	require.NoError(t, err)
	assert.Equal(t, "eventually", token)

	times := endpoint.requestTimes()
	require.Len(t, times, 3)

	// Delays must grow: ~50ms then ~100ms.
	firstGap := times[1].Sub(times[0])
	secondGap := times[2].Sub(times[1])
	assert.GreaterOrEqual(t, firstGap, 40*time.Millisecond)
	assert.Greater(t, secondGap, firstGap)
}

func TestRetryGivesUpAfterCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	endpoint.handle = func(_ string, _ int) (int, string) {
		return 503, `{"error": "unavailable"}`
	}

	manager := oauth.NewManager(oauth.NewTokenCache(newMemoryStore()),
		oauth.WithRetryPolicy(3, time.Millisecond))

	_, err := manager.GetToken(ctx, clientCredentialsSpec(endpoint.server.URL))
	require.Error(t, err)
	assert.True(t, apierrors.IsOAuthFetch(err))

	fetches, _ := endpoint.counts()
	assert.Equal(t, 3, fetches)
}

func TestStoreUnavailableDegradesToFreshFetches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)

	store := newMemoryStore()
	store.failWith = fmt.Errorf("keyring locked")
	manager := oauth.NewManager(oauth.NewTokenCache(store))

	spec := clientCredentialsSpec(endpoint.server.URL)

	// The run continues without a cache: every call fetches fresh.
	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	token, err = manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)

	fetches, _ := endpoint.counts()
	assert.Equal(t, 2, fetches)
}

func TestNeverExpiringTokenServedFromCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)

	// No expires_at: the token never goes stale on its own.
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken: "immortal",
		IssuedAt:    time.Now().Add(-24 * time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "immortal", token)

	fetches, refreshes := endpoint.counts()
	assert.Zero(t, fetches+refreshes)
}

func TestExpiryMarginTreatsSoonExpiringTokenAsStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := newTokenEndpoint(t)
	store := newMemoryStore()
	spec := clientCredentialsSpec(endpoint.server.URL)

	// Expires in 10s, within the 30s safety margin.
	soon := time.Now().Add(10 * time.Second)
	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken: "almost-stale",
		ExpiresAt:   &soon,
		IssuedAt:    time.Now().Add(-time.Hour),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))

	token, err := manager.GetToken(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	fetches, _ := endpoint.counts()
	assert.Equal(t, 1, fetches)
}

func TestConcurrentSameKeyCollapsesToOneFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "shared", "expires_in": 3600}`))
	}))
	t.Cleanup(server.Close)

	manager := oauth.NewManager(oauth.NewTokenCache(newMemoryStore()))
	spec := clientCredentialsSpec(server.URL)

	var wg sync.WaitGroup
	tokens := make([]string, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := manager.GetToken(ctx, spec)
			assert.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, token := range tokens {
		assert.Equal(t, "shared", token)
	}
}

func TestCancellationLeavesCacheUnwritten(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"access_token": "late"}`))
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	store := newMemoryStore()
	manager := oauth.NewManager(oauth.NewTokenCache(store))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := manager.GetToken(ctx, clientCredentialsSpec(server.URL))
	require.Error(t, err)

	store.mu.Lock()
	sets := store.sets
	store.mu.Unlock()
	assert.Zero(t, sets, "cancelled fetch must not write to the cache")
}

func TestManagerInvalidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newMemoryStore()
	spec := clientCredentialsSpec("https://idp.example.com/token")

	seedCachedToken(t, store, spec, oauth.CachedToken{
		AccessToken: "evict-me",
		IssuedAt:    time.Now(),
	})

	manager := oauth.NewManager(oauth.NewTokenCache(store))
	require.NoError(t, manager.Invalidate(ctx, spec))

	_, ok := store.raw(oauth.CacheKey(spec))
	assert.False(t, ok)
}
