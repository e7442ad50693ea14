package planner

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/daverage/mnemo/internal/store"
)

// StatsProvider supplies store-size statistics. *store.Store satisfies it.
type StatsProvider interface {
	Stats(ctx context.Context) (store.Stats, error)
}

const statsCacheKey = "store_stats"

// cachedStatsProvider caches store statistics for a short TTL so planning
// does not hit the database on every query. Staleness within the TTL is
// acceptable; the size factor moves slowly.
type cachedStatsProvider struct {
	provider StatsProvider
	cache    *ristretto.Cache
	ttl      time.Duration
}

func newCachedStats(provider StatsProvider, ttl time.Duration) (*cachedStatsProvider, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 64,
		MaxCost:     16,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &cachedStatsProvider{provider: provider, cache: cache, ttl: ttl}, nil
}

func (c *cachedStatsProvider) Stats(ctx context.Context) (store.Stats, error) {
	if v, ok := c.cache.Get(statsCacheKey); ok {
		if stats, ok := v.(store.Stats); ok {
			return stats, nil
		}
	}

	stats, err := c.provider.Stats(ctx)
	if err != nil {
		return store.Stats{}, err
	}

	c.cache.SetWithTTL(statsCacheKey, stats, 1, c.ttl)
	return stats, nil
}
