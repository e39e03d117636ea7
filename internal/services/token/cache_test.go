package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
)

type countingFetcher struct {
	calls int64
	delay time.Duration
	err   error
}

func (f *countingFetcher) FetchToken(_ context.Context, creds *domain.MerchantCredentials) (string, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + creds.FabricAppID, nil
}

func testCreds(fabricAppID string) *domain.MerchantCredentials {
	return &domain.MerchantCredentials{
		FabricAppID:   fabricAppID,
		MerchantAppID: "app",
		MerchantCode:  "code",
		AppSecret:     "secret",
		RSAPrivateKey: "key",
	}
}

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{Enabled: true, TTL: 3300 * time.Second, Prefix: "telebirr_token_"}
}

func TestCache_HitAvoidsRefetch(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	first, err := cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)
	second, err := cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestCache_NeverServesExpiredToken(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	current := time.Now()
	cache.now = func() time.Time { return current }

	_, err := cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)

	// Move past the TTL: the cached token must not be served.
	current = current.Add(3301 * time.Second)

	_, err = cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}

func TestCache_CoalescesConcurrentMisses(t *testing.T) {
	fetcher := &countingFetcher{delay: 50 * time.Millisecond}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	const workers = 20
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := cache.GetToken(context.Background(), testCreds("a"))
			require.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls),
		"concurrent misses for the same identity must coalesce into one fetch")
	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
}

func TestCache_IndependentKeysFetchIndependently(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	tokenA, err := cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)
	tokenB, err := cache.GetToken(context.Background(), testCreds("b"))
	require.NoError(t, err)

	assert.NotEqual(t, tokenA, tokenB)
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}

func TestCache_FetchFailureIsNotCached(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("upstream down")}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	_, err := cache.GetToken(context.Background(), testCreds("a"))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeTokenUnavailable, domain.GetErrorCode(err))

	// Next call fetches again rather than serving a cached failure.
	fetcher.err = nil
	_, err = cache.GetToken(context.Background(), testCreds("a"))
	assert.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}

func TestCache_Invalidate(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, cacheConfig(), zap.NewNop())

	_, err := cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)

	cache.Invalidate(testCreds("a"))

	_, err = cache.GetToken(context.Background(), testCreds("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt64(&fetcher.calls))
}

func TestCache_DisabledAlwaysFetches(t *testing.T) {
	fetcher := &countingFetcher{}
	cfg := cacheConfig()
	cfg.Enabled = false
	cache := NewCache(fetcher, cfg, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := cache.GetToken(context.Background(), testCreds("a"))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, atomic.LoadInt64(&fetcher.calls))
}
