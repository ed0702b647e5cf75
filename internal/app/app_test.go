package app

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-search-widget/internal/cache"
	"github.com/kjstillabower/weather-search-widget/internal/circuitbreaker"
	"github.com/kjstillabower/weather-search-widget/internal/client"
	"github.com/kjstillabower/weather-search-widget/internal/config"
	"github.com/kjstillabower/weather-search-widget/internal/testhelpers"
	"github.com/kjstillabower/weather-search-widget/internal/widget"
)

// testConfig points a config at the fake upstream with every optional part off.
func testConfig(fake *testhelpers.FakeOpenWeather) *config.Config {
	cc := fake.ClientConfig()
	return &config.Config{
		WeatherAPIKey:       cc.APIKey,
		WeatherAPIURL:       cc.WeatherURL,
		GeoAPIURL:           cc.GeoURL,
		WeatherAPITimeout:   time.Second,
		RetryAttempts:       1,
		DefaultCity:         "London",
		SuggestionLimit:     5,
		SuggestionMinLength: 3,
		CacheBackend:        cache.BackendNone,
		CacheTTL:            time.Minute,
		DegradedWindow:      time.Minute,
		DegradedErrorPct:    5,
	}
}

func TestNew_MinimalStack(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	a, err := New(testConfig(fake), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Breaker != nil || a.Memcached != nil || a.Warmer != nil {
		t.Errorf("optional parts = %+v, want all nil", a)
	}

	view, err := a.Service.GetWeather(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if view.Location != "Paris" {
		t.Errorf("Location = %q, want Paris", view.Location)
	}

	hc := a.HealthConfig()
	if hc.CachePing != nil || hc.BreakerState != nil {
		t.Error("health checks set for disabled components")
	}
	if hc.Window != time.Minute || hc.DegradedErrorPct != 5 {
		t.Errorf("HealthConfig = %+v", hc)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNew_InvalidKey(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	cfg := testConfig(fake)
	cfg.WeatherAPIKey = "short"

	if _, err := New(cfg, nil); err == nil {
		t.Error("New() with short key succeeded, want error")
	}
}

// TestNew_BreakerIgnoresUnknownCity verifies lookups for unknown cities never open the breaker.
func TestNew_BreakerIgnoresUnknownCity(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	cfg := testConfig(fake)
	cfg.CircuitBreakerEnabled = true
	cfg.CircuitBreakerFailureThreshold = 2
	cfg.CircuitBreakerTimeout = time.Minute
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.Service.GetWeather(context.Background(), "Atlantis"); err == nil {
			t.Fatal("GetWeather(Atlantis) succeeded")
		}
	}
	if got := a.Breaker.State(); got != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", got)
	}

	fake.FailWeather(http.StatusInternalServerError)
	for i := 0; i < 2; i++ {
		_, _ = a.Service.GetWeather(context.Background(), "London")
	}
	if got := a.HealthConfig().BreakerState(); got != "open" {
		t.Errorf("BreakerState() = %q, want open", got)
	}
}

// TestNew_BreakerIgnoresUnparsableQuery verifies upstream 400s for junk input are not
// counted against the breaker, so later valid searches still succeed.
func TestNew_BreakerIgnoresUnparsableQuery(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	cfg := testConfig(fake)
	cfg.CircuitBreakerEnabled = true
	cfg.CircuitBreakerFailureThreshold = 5
	cfg.CircuitBreakerTimeout = time.Minute
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for i := 0; i < 10; i++ {
		_, err := a.Service.GetWeather(context.Background(), ",")
		if !errors.Is(err, client.ErrLocationNotFound) {
			t.Fatalf("GetWeather(\",\") error = %v, want ErrLocationNotFound", err)
		}
	}
	if got := a.Breaker.State(); got != circuitbreaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed", got)
	}
	view, err := a.Service.GetWeather(context.Background(), "London")
	if err != nil {
		t.Fatalf("GetWeather(London) error = %v", err)
	}
	if view.Location != "London" || view.Humidity != 81 {
		t.Errorf("view = %+v, want London with all fields", view)
	}
}

func TestWarmCities(t *testing.T) {
	a := &App{cfg: &config.Config{
		DefaultCity:      "London",
		TrackedLocations: []string{"london", "Paris", " ", "paris ", "Tokyo"},
	}}
	want := []string{"London", "Paris", "Tokyo"}
	if got := a.WarmCities(); !reflect.DeepEqual(got, want) {
		t.Errorf("WarmCities() = %v, want %v", got, want)
	}
}

// TestStartWarming_PrimesCache verifies a one-shot warm fills the in-memory cache so
// the next lookup does not reach upstream.
func TestStartWarming_PrimesCache(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	cfg := testConfig(fake)
	cfg.CacheBackend = cache.BackendInMemory
	cfg.TrackedLocations = []string{"Paris"}
	core, logs := observer.New(zapcore.InfoLevel)
	a, err := New(cfg, zap.New(core))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a.StartWarming(context.Background(), 5*time.Second)

	if n := fake.WeatherCalls.Load(); n != 2 {
		t.Fatalf("upstream calls after warm = %d, want 2", n)
	}
	if _, err := a.Service.GetWeather(context.Background(), "london"); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if n := fake.WeatherCalls.Load(); n != 2 {
		t.Errorf("upstream calls after cached lookup = %d, want 2", n)
	}
	if logs.FilterMessage("cache warming complete").Len() != 1 {
		t.Error("missing cache warming complete log")
	}
}

func TestStartWarming_NoCacheIsNoop(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	a, err := New(testConfig(fake), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	a.StartWarming(context.Background(), time.Second)
	if n := fake.WeatherCalls.Load(); n != 0 {
		t.Errorf("upstream calls = %d, want 0 with caching off", n)
	}
}

func TestWidgetOptions(t *testing.T) {
	fake := testhelpers.NewFakeOpenWeather(t)
	cfg := testConfig(fake)
	cfg.DefaultCity = "Tokyo"
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	w := widget.New(a.Service, a.WidgetOptions()...)
	w.Mount(context.Background())
	s := w.State()
	if s.Weather == nil || s.Weather.Location != "Tokyo" {
		t.Errorf("mounted weather = %+v, want Tokyo", s.Weather)
	}
}
