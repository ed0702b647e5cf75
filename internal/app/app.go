// Package app assembles the weather stack (client, breaker, cache, service) from
// configuration. Both the HTTP service and the terminal widget are built on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-search-widget/internal/cache"
	"github.com/kjstillabower/weather-search-widget/internal/circuitbreaker"
	"github.com/kjstillabower/weather-search-widget/internal/client"
	"github.com/kjstillabower/weather-search-widget/internal/config"
	httphandler "github.com/kjstillabower/weather-search-widget/internal/http"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
	"github.com/kjstillabower/weather-search-widget/internal/service"
	"github.com/kjstillabower/weather-search-widget/internal/widget"
)

const breakerComponent = "weather_api"

// App holds the wired components. Optional parts are nil when disabled.
type App struct {
	Client    *client.OpenWeatherClient
	Service   *service.WeatherService
	Breaker   *circuitbreaker.CircuitBreaker
	Memcached *cache.MemcachedCache
	Warmer    *cache.Warmer

	cfg    *config.Config
	logger *zap.Logger
}

// New builds the client, optional breaker, cache backend and service described by cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	weatherClient, err := client.NewOpenWeatherClient(client.Config{
		APIKey:          cfg.WeatherAPIKey,
		WeatherURL:      cfg.WeatherAPIURL,
		GeoURL:          cfg.GeoAPIURL,
		IconURLTemplate: cfg.IconURLTemplate,
		Units:           cfg.Units,
		Timeout:         cfg.WeatherAPITimeout,
		RetryAttempts:   cfg.RetryAttempts,
		RetryBaseDelay:  cfg.RetryBaseDelay,
		RetryMaxDelay:   cfg.RetryMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	a.Client = weatherClient

	if cfg.CircuitBreakerEnabled {
		a.Breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
			// An unknown city is a healthy upstream answering correctly.
			Ignore: func(err error) bool { return errors.Is(err, client.ErrLocationNotFound) },
		})
		weatherClient.SetCircuitBreaker(a.Breaker)
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var store cache.Cache
	switch cfg.CacheBackend {
	case cache.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.Memcached = mc
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case cache.BackendInMemory:
		store = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	default:
		logger.Info("cache backend: none")
	}

	opts := service.Options{
		CacheTTL:            cfg.CacheTTL,
		SuggestionLimit:     cfg.SuggestionLimit,
		SuggestionMinLength: cfg.SuggestionMinLength,
	}
	if cfg.CoalesceEnabled {
		opts.CoalesceTimeout = cfg.CoalesceTimeout
	}
	a.Service = service.NewWeatherService(weatherClient, store, opts)
	if store != nil {
		a.Warmer = cache.NewWarmer(a.Service, logger)
	}

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}
	return a, nil
}

// WarmCities is the default city followed by the tracked locations, without
// duplicates (compared case-insensitively).
func (a *App) WarmCities() []string {
	seen := make(map[string]struct{})
	var cities []string
	for _, c := range append([]string{a.cfg.DefaultCity}, a.cfg.TrackedLocations...) {
		key := strings.ToLower(strings.TrimSpace(c))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		cities = append(cities, strings.TrimSpace(c))
	}
	return cities
}

// StartWarming primes the cache for WarmCities. Without a warm interval it warms once,
// bounded by timeout, before returning; with one it keeps warming in the background
// until ctx is done. It does nothing when caching is off.
func (a *App) StartWarming(ctx context.Context, timeout time.Duration) {
	if a.Warmer == nil {
		return
	}
	cities := a.WarmCities()

	if a.cfg.CacheWarmInterval > 0 {
		go func() {
			if err := a.Warmer.WarmPeriodic(ctx, cities, a.cfg.CacheWarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
		return
	}

	warmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.Warmer.Warm(warmCtx, cities); err != nil {
		a.logger.Warn("cache warming failed", zap.Error(err))
	}
}

// HealthConfig describes the /health checks for this stack.
func (a *App) HealthConfig() *httphandler.HealthConfig {
	hc := &httphandler.HealthConfig{
		Window:               a.cfg.DegradedWindow,
		DegradedErrorPct:     a.cfg.DegradedErrorPct,
		OverloadThresholdPct: a.cfg.OverloadThresholdPct,
	}
	if a.Memcached != nil {
		hc.CachePing = a.Memcached.Ping
	}
	if a.Breaker != nil {
		breaker := a.Breaker
		hc.BreakerState = func() string { return breaker.State().String() }
	}
	return hc
}

// WidgetOptions configures a widget with the configured default city and suggestion rules.
func (a *App) WidgetOptions() []widget.Option {
	return []widget.Option{
		widget.WithDefaultCity(a.cfg.DefaultCity),
		widget.WithSuggestionRules(a.cfg.SuggestionMinLength, a.cfg.SuggestionLimit),
		widget.WithLogger(a.logger),
	}
}

// Close releases backend connections.
func (a *App) Close() error {
	if a.Memcached != nil {
		if err := a.Memcached.Close(); err != nil {
			return fmt.Errorf("memcached close: %w", err)
		}
	}
	return nil
}
