package token

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/addispay/telebirr-service/internal/config"
	"github.com/addispay/telebirr-service/internal/domain"
)

var (
	tokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fabric_token_cache_hits_total",
		Help: "Total number of fabric token cache hits",
	})

	tokenCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_token_cache_misses_total",
		Help: "Total number of fabric token cache misses",
	}, []string{"reason"}) // expired, not_found, disabled

	tokenFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fabric_token_fetches_total",
		Help: "Total number of upstream fabric token fetches",
	}, []string{"result"}) // ok, error
)

// Fetcher acquires a fabric token from the gateway's token endpoint.
type Fetcher interface {
	FetchToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error)
}

type entry struct {
	token     string
	expiresAt time.Time
}

// Cache caches fabric tokens per merchant identity. Concurrent misses for
// the same identity are coalesced into a single upstream fetch; unrelated
// identities fetch independently. A token is never served past its TTL.
type Cache struct {
	fetcher Fetcher
	logger  *zap.Logger

	enabled bool
	ttl     time.Duration
	prefix  string

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

// NewCache creates a fabric token cache.
func NewCache(fetcher Fetcher, cfg config.CacheConfig, logger *zap.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		logger:  logger,
		enabled: cfg.Enabled,
		ttl:     cfg.TTL,
		prefix:  cfg.Prefix,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// GetToken returns a valid fabric token for the merchant identity, fetching
// one when the cache has none. Failure to acquire a token is fatal for the
// current call; the cache does not retry internally.
func (c *Cache) GetToken(ctx context.Context, creds *domain.MerchantCredentials) (string, error) {
	key := c.prefix + creds.CacheKey()

	if !c.enabled {
		tokenCacheMisses.WithLabelValues("disabled").Inc()
		return c.fetch(ctx, key, creds)
	}

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Before(cached.expiresAt) {
		tokenCacheHits.Inc()
		return cached.token, nil
	}
	if ok {
		tokenCacheMisses.WithLabelValues("expired").Inc()
	} else {
		tokenCacheMisses.WithLabelValues("not_found").Inc()
	}

	return c.fetch(ctx, key, creds)
}

// Invalidate drops the cached token for a merchant identity, forcing the
// next call to fetch. Used when the gateway rejects a token before expiry.
func (c *Cache) Invalidate(creds *domain.MerchantCredentials) {
	key := c.prefix + creds.CacheKey()
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// fetch acquires a token upstream, coalescing concurrent calls per key.
func (c *Cache) fetch(ctx context.Context, key string, creds *domain.MerchantCredentials) (string, error) {
	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A racing caller may have stored a fresh token while this one was
		// waiting on the flight group.
		if c.enabled {
			c.mu.RLock()
			cached, ok := c.entries[key]
			c.mu.RUnlock()
			if ok && c.now().Before(cached.expiresAt) {
				return cached.token, nil
			}
		}

		token, err := c.fetcher.FetchToken(ctx, creds)
		if err != nil {
			tokenFetches.WithLabelValues("error").Inc()
			c.logger.Error("fabric token fetch failed",
				zap.String("fabric_app_id", creds.FabricAppID),
				zap.Error(err),
			)
			return nil, domain.WrapError(domain.ErrorCodeTokenUnavailable, "fabric token fetch", err)
		}
		tokenFetches.WithLabelValues("ok").Inc()

		if c.enabled {
			c.mu.Lock()
			c.entries[key] = entry{token: token, expiresAt: c.now().Add(c.ttl)}
			c.mu.Unlock()
		}

		c.logger.Debug("fabric token acquired",
			zap.String("fabric_app_id", creds.FabricAppID),
			zap.Duration("ttl", c.ttl),
		)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}
