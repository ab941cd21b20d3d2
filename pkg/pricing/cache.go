package pricing

import (
	"sync"
	"time"
)

// PriceCache caches pricing data to reduce API calls
type PriceCache struct {
	data  map[string]*cacheEntry
	ttl   time.Duration
	mutex sync.RWMutex
}

type cacheEntry struct {
	rate      *Rate
	expiresAt time.Time
}

func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		data: make(map[string]*cacheEntry),
		ttl:  ttl,
	}
}

func (c *PriceCache) Get(key string) *Rate {
	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()
	if !exists {
		return nil
	}

	if time.Now().After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.data, key)
		c.mutex.Unlock()
		return nil
	}

	return entry.rate
}

func (c *PriceCache) Set(key string, rate *Rate) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.data[key] = &cacheEntry{
		rate:      rate,
		expiresAt: time.Now().Add(c.ttl),
	}
}
