package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-search-widget/internal/models"
)

// Backend names accepted by config.
const (
	BackendNone      = "none"
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
)

// Cache stores WeatherViews by normalized city key.
// Get returns (zero, false, nil) on miss or expiry.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherView, bool, error)
	Set(ctx context.Context, key string, value models.WeatherView, ttl time.Duration) error
}

// NopCache never stores anything. Every lookup goes upstream.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (models.WeatherView, bool, error) {
	return models.WeatherView{}, false, nil
}

func (NopCache) Set(context.Context, string, models.WeatherView, time.Duration) error {
	return nil
}

// InMemoryCache is a mutex-guarded map with per-entry expiry. Expired entries are
// dropped on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherView
	expiresAt time.Time
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherView, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.WeatherView{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherView{}, false, nil
	}
	return entry.value, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherView, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
