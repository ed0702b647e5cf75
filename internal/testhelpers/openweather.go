// Package testhelpers provides a fake OpenWeatherMap for tests that exercise the
// full client stack without network access.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/weather-search-widget/internal/client"
)

// FakeAPIKey is the only key the fake upstream accepts.
const FakeAPIKey = "fake-openweather-key"

// City is one entry in the fake upstream's gazetteer.
type City struct {
	Name     string
	Country  string
	Temp     float64
	Humidity int
	Wind     float64
	Icon     string
}

// DefaultCities is the gazetteer used by NewFakeOpenWeather. Entries sharing a name
// (the two Londons) only differ in country, as they do upstream.
var DefaultCities = []City{
	{Name: "London", Country: "GB", Temp: 11.2, Humidity: 81, Wind: 4.63, Icon: "04d"},
	{Name: "London", Country: "CA", Temp: 7.9, Humidity: 70, Wind: 3.1, Icon: "10d"},
	{Name: "Londonderry", Country: "GB", Temp: 9.4, Humidity: 88, Wind: 6.2, Icon: "09d"},
	{Name: "Londrina", Country: "BR", Temp: 24.5, Humidity: 60, Wind: 2.4, Icon: "01d"},
	{Name: "Lonavala", Country: "IN", Temp: 27.1, Humidity: 74, Wind: 1.8, Icon: "02d"},
	{Name: "Longyearbyen", Country: "SJ", Temp: -8.3, Humidity: 67, Wind: 7.7, Icon: "13d"},
	{Name: "Paris", Country: "FR", Temp: 16.4, Humidity: 55, Wind: 2.1, Icon: "01d"},
	{Name: "Tokyo", Country: "JP", Temp: 19.0, Humidity: 62, Wind: 3.6, Icon: "03d"},
}

// FakeOpenWeather serves the current-weather and direct-geocoding endpoints from a
// fixed gazetteer.
type FakeOpenWeather struct {
	Server *httptest.Server

	mu           sync.Mutex
	cities       []City
	weatherFault int // HTTP status forced on weather calls; 0 = none
	geoFault     int

	WeatherCalls atomic.Int64
	GeoCalls     atomic.Int64
}

// NewFakeOpenWeather starts a fake upstream that is closed when t finishes.
func NewFakeOpenWeather(t testing.TB) *FakeOpenWeather {
	t.Helper()
	f := &FakeOpenWeather{cities: append([]City(nil), DefaultCities...)}

	router := mux.NewRouter()
	router.Use(f.requireKey)
	router.HandleFunc("/data/2.5/weather", f.weather).Methods(http.MethodGet)
	router.HandleFunc("/geo/1.0/direct", f.geocode).Methods(http.MethodGet)

	f.Server = httptest.NewServer(router)
	t.Cleanup(f.Server.Close)
	return f
}

// ClientConfig returns a client configuration pointed at the fake.
func (f *FakeOpenWeather) ClientConfig() client.Config {
	return client.Config{
		APIKey:     FakeAPIKey,
		WeatherURL: f.Server.URL + "/data/2.5/weather",
		GeoURL:     f.Server.URL + "/geo/1.0/direct",
	}
}

// FailWeather forces every weather call to answer status. 0 restores normal service.
func (f *FakeOpenWeather) FailWeather(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weatherFault = status
}

// FailGeocoding forces every geocoding call to answer status. 0 restores normal service.
func (f *FakeOpenWeather) FailGeocoding(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geoFault = status
}

func (f *FakeOpenWeather) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != FakeAPIKey {
			writeUpstreamError(w, http.StatusUnauthorized, "Invalid API key.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeOpenWeather) weather(w http.ResponseWriter, r *http.Request) {
	f.WeatherCalls.Add(1)
	f.mu.Lock()
	fault := f.weatherFault
	f.mu.Unlock()
	if fault != 0 {
		writeUpstreamError(w, fault, http.StatusText(fault))
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if !hasAlnum(q) {
		writeUpstreamError(w, http.StatusBadRequest, "Nothing to geocode")
		return
	}
	name, country, _ := strings.Cut(q, ",")
	for _, c := range f.snapshot() {
		if !strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			continue
		}
		if country != "" && !strings.EqualFold(c.Country, strings.TrimSpace(country)) {
			continue
		}
		writeUpstreamJSON(w, map[string]interface{}{
			"name":    c.Name,
			"main":    map[string]interface{}{"temp": c.Temp, "humidity": c.Humidity},
			"wind":    map[string]interface{}{"speed": c.Wind},
			"weather": []map[string]string{{"icon": c.Icon}},
		})
		return
	}
	writeUpstreamError(w, http.StatusNotFound, "city not found")
}

func (f *FakeOpenWeather) geocode(w http.ResponseWriter, r *http.Request) {
	f.GeoCalls.Add(1)
	f.mu.Lock()
	fault := f.geoFault
	f.mu.Unlock()
	if fault != 0 {
		writeUpstreamError(w, fault, http.StatusText(fault))
		return
	}

	prefix := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	if !hasAlnum(prefix) {
		writeUpstreamError(w, http.StatusBadRequest, "Nothing to geocode")
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 5
	}
	out := []map[string]interface{}{}
	for _, c := range f.snapshot() {
		if len(out) == limit {
			break
		}
		if strings.HasPrefix(strings.ToLower(c.Name), prefix) {
			out = append(out, map[string]interface{}{"name": c.Name, "country": c.Country})
		}
	}
	writeUpstreamJSON(w, out)
}

// hasAlnum mirrors upstream rejecting queries with nothing to geocode.
func hasAlnum(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }) >= 0
}

func (f *FakeOpenWeather) snapshot() []City {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]City(nil), f.cities...)
}

func writeUpstreamJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeUpstreamError mirrors OpenWeatherMap's {"cod","message"} error body.
func writeUpstreamError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"cod":     strconv.Itoa(status),
		"message": message,
	})
}
