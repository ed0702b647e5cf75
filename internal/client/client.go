package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-search-widget/internal/circuitbreaker"
	"github.com/kjstillabower/weather-search-widget/internal/models"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
)

// WeatherClient is the upstream surface the service layer depends on.
type WeatherClient interface {
	GetCurrentWeather(ctx context.Context, city string) (models.WeatherView, error)
	SearchCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

const (
	DefaultWeatherURL      = "https://api.openweathermap.org/data/2.5/weather"
	DefaultGeoURL          = "https://api.openweathermap.org/geo/1.0/direct"
	DefaultIconURLTemplate = "http://openweathermap.org/img/wn/%s@2x.png"
	DefaultUnits           = "metric"

	endpointWeather   = "weather"
	endpointGeocoding = "geocoding"
)

// Config configures an OpenWeatherClient. Empty URLs and template use the Default* values;
// RetryAttempts <= 1 disables retries.
type Config struct {
	APIKey          string
	WeatherURL      string
	GeoURL          string
	IconURLTemplate string
	Units           string
	Timeout         time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// OpenWeatherClient talks to the OpenWeatherMap current-weather and direct-geocoding APIs.
type OpenWeatherClient struct {
	cfg     Config
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient validates cfg and returns a client.
func NewOpenWeatherClient(cfg Config) (*OpenWeatherClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if cfg.WeatherURL == "" {
		cfg.WeatherURL = DefaultWeatherURL
	}
	if cfg.GeoURL == "" {
		cfg.GeoURL = DefaultGeoURL
	}
	if cfg.IconURLTemplate == "" {
		cfg.IconURLTemplate = DefaultIconURLTemplate
	}
	if cfg.Units == "" {
		cfg.Units = DefaultUnits
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}

	return &OpenWeatherClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// SetCircuitBreaker wraps every upstream call in cb. Nil disables the breaker.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type weatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Icon string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Name string `json:"name"`
}

type geocodingResult struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// GetCurrentWeather fetches current conditions for city and maps them into a WeatherView.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string) (models.WeatherView, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", c.cfg.Units)

	var resp weatherResponse
	if err := c.do(ctx, endpointWeather, c.cfg.WeatherURL, params, &resp); err != nil {
		return models.WeatherView{}, err
	}
	return c.mapWeather(resp, city), nil
}

// SearchCities returns up to limit geocoding matches for query.
func (c *OpenWeatherClient) SearchCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))

	var results []geocodingResult
	if err := c.do(ctx, endpointGeocoding, c.cfg.GeoURL, params, &results); err != nil {
		return nil, err
	}

	out := make([]models.CitySuggestion, 0, len(results))
	for _, r := range results {
		if r.Name == "" {
			continue
		}
		out = append(out, models.CitySuggestion{
			Name:    r.Name,
			Country: r.Country,
			State:   r.State,
			Lat:     r.Lat,
			Lon:     r.Lon,
		})
	}
	return out, nil
}

// ValidateAPIKey issues a one-result geocoding call and reports whether the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	params.Set("limit", "1")
	var results []geocodingResult
	if err := c.call(ctx, endpointGeocoding, c.cfg.GeoURL, params, &results); err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// do runs call with retry and the optional circuit breaker.
func (c *OpenWeatherClient) do(ctx context.Context, endpoint, rawURL string, params url.Values, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		var err error
		if c.breaker != nil {
			err = c.breaker.Call(ctx, func(ctx context.Context) error {
				return c.call(ctx, endpoint, rawURL, params, out)
			})
		} else {
			err = c.call(ctx, endpoint, rawURL, params, out)
		}
		if err == nil {
			return nil
		}

		observability.WeatherAPIErrorsTotal.WithLabelValues(endpoint, string(CategorizeError(err))).Inc()
		lastErr = err
		if !c.isRetryable(ctx, err) {
			return err
		}
	}

	if c.cfg.RetryAttempts > 1 {
		return fmt.Errorf("exhausted retries: %w", lastErr)
	}
	return lastErr
}

func (c *OpenWeatherClient) call(ctx context.Context, endpoint, rawURL string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, rawURL, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := baseURL.Query()
	for k, v := range params {
		q[k] = v
	}
	q.Set("appid", c.cfg.APIKey)
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// isRetryable reports whether err is transient. A done parent context is never retried.
func (c *OpenWeatherClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if c.cfg.RetryMaxDelay > 0 && delay > float64(c.cfg.RetryMaxDelay) {
		delay = float64(c.cfg.RetryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return ErrLocationNotFound
	case http.StatusBadRequest:
		// Upstream answers 400 ("Nothing to geocode") for queries it cannot parse.
		return fmt.Errorf("%w: upstream rejected query", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

// mapWeather converts the upstream payload. Temperature is rounded up; the icon URL is
// built from the first weather entry and left empty if there is none.
func (c *OpenWeatherClient) mapWeather(resp weatherResponse, city string) models.WeatherView {
	location := resp.Name
	if location == "" {
		location = strings.TrimSpace(city)
	}

	iconURL := ""
	if len(resp.Weather) > 0 && resp.Weather[0].Icon != "" {
		iconURL = IconURL(c.cfg.IconURLTemplate, resp.Weather[0].Icon)
	}

	return models.WeatherView{
		Temperature: int(math.Ceil(resp.Main.Temp)),
		Location:    location,
		Humidity:    resp.Main.Humidity,
		WindSpeed:   resp.Wind.Speed,
		IconURL:     iconURL,
	}
}

// IconURL interpolates an icon code into template (one %s verb).
func IconURL(template, icon string) string {
	return fmt.Sprintf(template, icon)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
