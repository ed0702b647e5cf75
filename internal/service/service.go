package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-search-widget/internal/cache"
	"github.com/kjstillabower/weather-search-widget/internal/client"
	"github.com/kjstillabower/weather-search-widget/internal/models"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
	"github.com/kjstillabower/weather-search-widget/internal/validation"
)

const (
	DefaultSuggestionLimit     = 5
	DefaultSuggestionMinLength = 3
)

// Options tunes a WeatherService. Zero values select the defaults.
type Options struct {
	CacheTTL            time.Duration
	CoalesceTimeout     time.Duration // 0 disables coalescing
	SuggestionLimit     int
	SuggestionMinLength int
}

// WeatherService resolves weather searches (cache-aside over the upstream client) and
// city-name suggestions.
type WeatherService struct {
	client              client.WeatherClient
	cache               cache.Cache
	ttl                 time.Duration
	suggestionLimit     int
	suggestionMinLength int
	weatherCalls        *requestCoalescer[models.WeatherView]
	suggestionCalls     *requestCoalescer[[]models.CitySuggestion]
}

// NewWeatherService wires a service. A nil cache disables caching.
func NewWeatherService(c client.WeatherClient, store cache.Cache, opts Options) *WeatherService {
	if store == nil {
		store = cache.NopCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.SuggestionLimit <= 0 {
		opts.SuggestionLimit = DefaultSuggestionLimit
	}
	if opts.SuggestionMinLength <= 0 {
		opts.SuggestionMinLength = DefaultSuggestionMinLength
	}
	s := &WeatherService{
		client:              c,
		cache:               store,
		ttl:                 opts.CacheTTL,
		suggestionLimit:     opts.SuggestionLimit,
		suggestionMinLength: opts.SuggestionMinLength,
	}
	if opts.CoalesceTimeout > 0 {
		s.weatherCalls = newRequestCoalescer[models.WeatherView](opts.CoalesceTimeout)
		s.suggestionCalls = newRequestCoalescer[[]models.CitySuggestion](opts.CoalesceTimeout)
	}
	return s
}

// SuggestionMinLength is the shortest query that reaches the geocoder.
func (s *WeatherService) SuggestionMinLength() int {
	return s.suggestionMinLength
}

// GetWeather returns the current weather for city. Cache errors are logged and treated as misses.
func (s *WeatherService) GetWeather(ctx context.Context, city string) (models.WeatherView, error) {
	city = strings.TrimSpace(city)
	key := normalizeLocation(city)
	if key == "" {
		return models.WeatherView{}, validation.ErrLocationEmpty
	}
	logger := observability.LoggerFromContext(ctx)
	start := time.Now()
	observability.RecordWeatherQuery(key)

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
	case ok:
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		logger.Debug("weather served", zap.String("city", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	default:
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	fetch := func(ctx context.Context) (models.WeatherView, error) {
		return s.client.GetCurrentWeather(ctx, city)
	}
	var view models.WeatherView
	if s.weatherCalls != nil {
		var shared bool
		view, shared, err = s.weatherCalls.Do(ctx, key, fetch)
		if shared {
			observability.RequestCoalescingHitsTotal.Inc()
		}
	} else {
		view, err = fetch(ctx)
	}
	if err != nil {
		return models.WeatherView{}, fmt.Errorf("fetch weather for %s: %w", key, err)
	}

	if err := s.cache.Set(ctx, key, view, s.ttl); err != nil {
		logger.Warn("cache set failed", zap.String("city", key), zap.Error(err))
	}
	logger.Debug("weather served", zap.String("city", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return view, nil
}

// Suggest returns up to the configured limit of city names matching query. Queries
// shorter than the minimum length return an empty list without calling upstream.
func (s *WeatherService) Suggest(ctx context.Context, query string) ([]string, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < s.suggestionMinLength {
		observability.SuggestionLookupsTotal.WithLabelValues("short_query").Inc()
		return []string{}, nil
	}

	search := func(ctx context.Context) ([]models.CitySuggestion, error) {
		return s.client.SearchCities(ctx, query, s.suggestionLimit)
	}
	var (
		matches []models.CitySuggestion
		err     error
	)
	if s.suggestionCalls != nil {
		matches, _, err = s.suggestionCalls.Do(ctx, normalizeLocation(query), search)
	} else {
		matches, err = search(ctx)
	}
	if err != nil {
		observability.SuggestionLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("suggest %q: %w", query, err)
	}
	observability.SuggestionLookupsTotal.WithLabelValues("success").Inc()

	if len(matches) > s.suggestionLimit {
		matches = matches[:s.suggestionLimit]
	}
	return models.Names(matches), nil
}

// normalizeLocation trims and lowercases so "London " and "london" share a cache key.
func normalizeLocation(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}
