package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/domain/streak"
)

// LedgerCache caches ledgers as JSON. Commands invalidate; queries fill.
type LedgerCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewLedgerCache creates a ledger cache. A zero ttl uses TTLLedgerCache.
func NewLedgerCache(cache *Cache, ttl time.Duration) *LedgerCache {
	if ttl <= 0 {
		ttl = TTLLedgerCache
	}
	return &LedgerCache{cache: cache, ttl: ttl}
}

// Get returns the cached ledger or shared.ErrLedgerNotFound on a miss.
func (c *LedgerCache) Get(ctx context.Context, userID shared.UserID) (*streak.Ledger, error) {
	var l streak.Ledger
	if err := c.cache.Get(ctx, LedgerKey(userID.String()), &l); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.ErrLedgerNotFound
		}
		return nil, err
	}
	return &l, nil
}

// Set stores the ledger.
func (c *LedgerCache) Set(ctx context.Context, l *streak.Ledger) error {
	return c.cache.Set(ctx, LedgerKey(l.UserID.String()), l, c.ttl)
}

// Invalidate drops the user's cached ledger.
func (c *LedgerCache) Invalidate(ctx context.Context, userID shared.UserID) error {
	return c.cache.Delete(ctx, LedgerKey(userID.String()))
}
