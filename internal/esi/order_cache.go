package esi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// orderCacheKey identifies a cached order book.
type orderCacheKey struct {
	RegionID int32
	TypeID   int32
}

type orderCacheEntry struct {
	orders  []MarketOrder
	expires time.Time
}

// OrderCache is a thread-safe in-memory cache of per-type order books.
// Entries live until the ESI Expires time of the response that produced them.
// A singleflight.Group prevents duplicate in-flight fetches for the same key.
type OrderCache struct {
	mu      sync.RWMutex
	entries map[orderCacheKey]*orderCacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewOrderCache creates an empty order cache.
func NewOrderCache() *OrderCache {
	return &OrderCache{
		entries: make(map[orderCacheKey]*orderCacheEntry),
		now:     time.Now,
	}
}

// Get returns cached orders if they exist and have not expired.
func (oc *OrderCache) Get(regionID, typeID int32) ([]MarketOrder, bool) {
	oc.mu.RLock()
	defer oc.mu.RUnlock()

	e, ok := oc.entries[orderCacheKey{regionID, typeID}]
	if !ok || oc.now().After(e.expires) {
		return nil, false
	}
	return e.orders, true
}

// Put stores orders with the given expiry.
func (oc *OrderCache) Put(regionID, typeID int32, orders []MarketOrder, expires time.Time) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.entries[orderCacheKey{regionID, typeID}] = &orderCacheEntry{orders: orders, expires: expires}
}

// Purge drops expired entries and returns how many were removed.
func (oc *OrderCache) Purge() int {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	now := oc.now()
	n := 0
	for k, e := range oc.entries {
		if now.After(e.expires) {
			delete(oc.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of entries, expired or not.
func (oc *OrderCache) Len() int {
	oc.mu.RLock()
	defer oc.mu.RUnlock()
	return len(oc.entries)
}

func (c *Client) fetchOrdersCached(ctx context.Context, regionID, typeID int32) ([]MarketOrder, error) {
	if orders, ok := c.orders.Get(regionID, typeID); ok {
		return orders, nil
	}

	key := fmt.Sprintf("%d:%d", regionID, typeID)
	result, err, _ := c.orders.group.Do(key, func() (interface{}, error) {
		if orders, ok := c.orders.Get(regionID, typeID); ok {
			return orders, nil
		}
		orders, meta, err := c.fetchOrdersUncached(ctx, regionID, typeID)
		if err != nil {
			return nil, err
		}
		c.orders.Put(regionID, typeID, orders, meta.expires)
		return orders, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]MarketOrder), nil
}

// PurgeOrderCache drops expired order snapshots and returns how many were removed.
func (c *Client) PurgeOrderCache() int {
	return c.orders.Purge()
}
