//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-search-widget/internal/cache"
	"github.com/kjstillabower/weather-search-widget/internal/client"
	"github.com/kjstillabower/weather-search-widget/internal/service"
)

// IntegrationTestConfig holds configuration for tests against the real OpenWeatherMap.
type IntegrationTestConfig struct {
	APIKey        string
	CacheBackend  string // "in_memory", "memcached" or empty for none
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationClient creates a client for the real upstream.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(client.Config{APIKey: cfg.APIKey, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a service over the real upstream. A memcached backend
// that cannot be created falls back to the in-memory cache.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *service.WeatherService {
	t.Helper()
	var store cache.Cache
	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err != nil {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			store = cache.NewInMemoryCache()
			break
		}
		t.Cleanup(func() { _ = mc.Close() })
		store = mc
	case cache.BackendInMemory:
		store = cache.NewInMemoryCache()
	}
	return service.NewWeatherService(SetupIntegrationClient(t, cfg), store, service.Options{CoalesceTimeout: 5 * time.Second})
}
