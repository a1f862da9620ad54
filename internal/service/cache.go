package service

import (
	"context"
	"sync"
	"time"
)

// CacheItem represents a cached item with expiration
type CacheItem struct {
	Value      interface{}
	Expiration int64
}

// Cache provides an in-memory cache with TTL (time to live)
type Cache struct {
	mu       sync.RWMutex
	items    map[string]CacheItem
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewCache creates a new cache instance
func NewCache(cleanupInterval time.Duration) *Cache {
	c := &Cache{
		items: make(map[string]CacheItem),
		stop:  make(chan struct{}),
		now:   time.Now,
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

// Set adds an item to cache with TTL
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration int64
	if ttl > 0 {
		expiration = c.now().Add(ttl).UnixNano()
	}

	c.items[key] = CacheItem{
		Value:      value,
		Expiration: expiration,
	}
}

// Get retrieves an item from cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found {
		return nil, false
	}

	if item.Expiration > 0 && c.now().UnixNano() > item.Expiration {
		return nil, false
	}

	return item.Value, true
}

// GetOrLoad retrieves from cache or loads with context
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(context.Context) (interface{}, error)) (interface{}, error) {
	if value, found := c.Get(key); found {
		return value, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	value, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	c.Set(key, value, ttl)
	return value, nil
}

// Delete removes an item from cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Size returns the number of items in cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// cleanupLoop periodically removes expired items
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UnixNano()
	for key, item := range c.items {
		if item.Expiration > 0 && now > item.Expiration {
			delete(c.items, key)
		}
	}
}

// Close stops the cache cleanup goroutine
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}
