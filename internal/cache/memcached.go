package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-search-widget/internal/models"
)

const (
	keyPrefix = "weather-view:"

	// memcached treats relative expirations above 30 days as unix timestamps.
	maxRelativeExp = 30 * 24 * 60 * 60
)

// MemcachedCache implements Cache on memcached, storing WeatherViews as JSON.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated server list.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, fmt.Errorf("memcached: no server addresses in %q", addrs)
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// cacheKey maps a city key onto memcached's key alphabet (no spaces or control chars).
func cacheKey(k string) string {
	return keyPrefix + strings.ReplaceAll(k, " ", "_")
}

func (c *MemcachedCache) Get(ctx context.Context, key string) (models.WeatherView, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.WeatherView{}, false, err
	}
	item, err := c.client.Get(cacheKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherView{}, false, nil
		}
		return models.WeatherView{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var view models.WeatherView
	if err := json.Unmarshal(item.Value, &view); err != nil {
		return models.WeatherView{}, false, fmt.Errorf("memcached decode: %w", err)
	}
	return view, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value models.WeatherView, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memcached encode: %w", err)
	}
	return c.client.Set(&memcache.Item{
		Key:        cacheKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

func expirationSeconds(ttl time.Duration) int32 {
	sec := int64(ttl / time.Second)
	if sec <= 0 {
		return 1
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return int32(sec)
}

// Ping checks that every server is reachable. Used by /health.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close releases idle connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
