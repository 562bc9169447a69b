package core

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"ratedesk/pkg/domain"
)

// CachedLookups memoizes ListDistinct results per mapping table, column and
// filter. Failed lookups are not cached.
type CachedLookups struct {
	store  domain.RecordStore
	cache  *expirable.LRU[string, []string]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedLookups wraps store with an LRU of size entries expiring after ttl.
func NewCachedLookups(store domain.RecordStore, size int, ttl time.Duration) *CachedLookups {
	return &CachedLookups{
		store: store,
		cache: expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func lookupKey(v domain.Variant, field domain.Field, filter *domain.KeyFilter) string {
	parts := []string{v.MappingTable, v.Column(field)}
	if filter != nil {
		parts = append(parts, v.Column(filter.Field)+"="+filter.Value)
	}
	return strings.Join(parts, "|")
}

// ListDistinct returns the cached option list, consulting the store on a miss.
func (c *CachedLookups) ListDistinct(ctx context.Context, v domain.Variant, field domain.Field, filter *domain.KeyFilter) ([]string, error) {
	key := lookupKey(v, field, filter)
	if values, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return append([]string{}, values...), nil
	}
	c.misses.Add(1)
	values, err := c.store.ListDistinct(ctx, v, field, filter)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	c.cache.Add(key, values)
	return append([]string{}, values...), nil
}

// Purge drops every cached list.
func (c *CachedLookups) Purge() {
	c.cache.Purge()
}

// Stats returns the cache hit and miss counts.
func (c *CachedLookups) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}
