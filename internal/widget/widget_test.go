package widget

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-search-widget/internal/models"
)

// fakeBackend answers from fixed tables. A gate registered for a city or query
// blocks that call until the gate is closed.
type fakeBackend struct {
	mu          sync.Mutex
	weather     map[string]models.WeatherView
	suggestions map[string][]string
	suggestErr  error
	gates       map[string]chan struct{}
	entered     chan string
	searched    []string
	suggested   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		weather: map[string]models.WeatherView{
			"london": {Temperature: 12, Location: "London", Humidity: 81, WindSpeed: 4.63, IconURL: "http://openweathermap.org/img/wn/04d@2x.png"},
			"paris":  {Temperature: 17, Location: "Paris", Humidity: 55, WindSpeed: 2.1, IconURL: "http://openweathermap.org/img/wn/01d@2x.png"},
		},
		suggestions: map[string][]string{
			"lon":   {"London", "London", "Londonderry", "Londrina", "Lonavala", "Longyearbyen"},
			"lond":  {"London", "London", "Londonderry"},
			"londo": {"London", "London"},
			"par":   {"Paris", "Parma"},
		},
		gates:   map[string]chan struct{}{},
		entered: make(chan string, 64),
	}
}

func (f *fakeBackend) gate(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[key] = ch
	return ch
}

func (f *fakeBackend) wait(ctx context.Context, key string) error {
	f.mu.Lock()
	ch := f.gates[key]
	f.mu.Unlock()
	select {
	case f.entered <- key:
	default:
	}
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) GetWeather(ctx context.Context, city string) (models.WeatherView, error) {
	key := strings.ToLower(city)
	f.mu.Lock()
	f.searched = append(f.searched, city)
	f.mu.Unlock()
	if err := f.wait(ctx, "weather:"+key); err != nil {
		return models.WeatherView{}, err
	}
	v, ok := f.weather[key]
	if !ok {
		return models.WeatherView{}, errors.New("location not found")
	}
	return v, nil
}

func (f *fakeBackend) Suggest(ctx context.Context, query string) ([]string, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	f.mu.Lock()
	f.suggested = append(f.suggested, query)
	err := f.suggestErr
	f.mu.Unlock()
	if err := f.wait(ctx, "suggest:"+key); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	return f.suggestions[key], nil
}

// awaitEntered blocks until the backend has been entered for key.
func awaitEntered(t *testing.T, f *fakeBackend, key string) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.entered:
			if got == key {
				return
			}
		case <-timeout:
			t.Fatalf("backend never entered for %q", key)
		}
	}
}

// TestWidget_Search_ValidCity verifies all displayed fields are populated and a
// prior error is cleared.
func TestWidget_Search_ValidCity(t *testing.T) {
	w := New(newFakeBackend())
	ctx := context.Background()

	w.Search(ctx, "Atlantis")
	if w.State().Error == "" {
		t.Fatal("precondition: expected error after unknown city")
	}

	w.Search(ctx, "London")
	s := w.State()
	if s.Error != "" {
		t.Errorf("Error = %q, want cleared", s.Error)
	}
	if s.Loading {
		t.Error("Loading = true after completion")
	}
	if s.Weather == nil {
		t.Fatal("Weather = nil, want populated")
	}
	if s.Weather.Location != "London" || s.Weather.Temperature != 12 || s.Weather.Humidity != 81 || s.Weather.WindSpeed != 4.63 {
		t.Errorf("Weather = %+v", *s.Weather)
	}
	if s.Weather.IconURL == "" {
		t.Error("IconURL empty")
	}
}

// TestWidget_Search_InvalidCity verifies the generic error is shown and the
// previously displayed weather is cleared.
func TestWidget_Search_InvalidCity(t *testing.T) {
	w := New(newFakeBackend())
	ctx := context.Background()

	w.Search(ctx, "London")
	w.Search(ctx, "Atlantis")

	s := w.State()
	if s.Error != ErrorMessage {
		t.Errorf("Error = %q, want %q", s.Error, ErrorMessage)
	}
	if s.Weather != nil {
		t.Errorf("Weather = %+v, want nil", *s.Weather)
	}
	if s.Loading {
		t.Error("Loading = true after failure")
	}
}

func TestWidget_Search_BlankIsNoop(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()
	w.Search(ctx, "London")
	before := w.State()

	w.Search(ctx, "")
	w.Search(ctx, "   ")

	if len(f.searched) != 1 {
		t.Errorf("backend searched %d times, want 1", len(f.searched))
	}
	after := w.State()
	if after.Weather == nil || after.Weather.Location != before.Weather.Location || after.Loading {
		t.Errorf("state changed by blank search: %+v", after)
	}
}

// TestWidget_Search_LoadingAndClears verifies loading is set while the lookup is in
// flight and that error and suggestions are cleared at the start.
func TestWidget_Search_LoadingAndClears(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()

	w.Search(ctx, "Atlantis")
	w.FetchSuggestions(ctx, "Par")
	if len(w.State().Suggestions) == 0 {
		t.Fatal("precondition: expected suggestions")
	}

	release := f.gate("weather:paris")
	done := make(chan struct{})
	go func() {
		w.Search(ctx, "Paris")
		close(done)
	}()
	awaitEntered(t, f, "weather:paris")

	s := w.State()
	if !s.Loading {
		t.Error("Loading = false while in flight")
	}
	if s.Error != "" {
		t.Errorf("Error = %q while in flight, want cleared", s.Error)
	}
	if len(s.Suggestions) != 0 {
		t.Errorf("Suggestions = %v while in flight, want cleared", s.Suggestions)
	}

	close(release)
	<-done
	if s := w.State(); s.Loading || s.Weather == nil || s.Weather.Location != "Paris" {
		t.Errorf("final state = %+v", s)
	}
}

// TestWidget_Search_StaleResultDropped verifies an older search finishing last does
// not overwrite the newer result.
func TestWidget_Search_StaleResultDropped(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()

	slow := f.gate("weather:london")
	done := make(chan struct{})
	go func() {
		w.Search(ctx, "London")
		close(done)
	}()
	awaitEntered(t, f, "weather:london")

	w.Search(ctx, "Paris")
	close(slow)
	<-done

	s := w.State()
	if s.Weather == nil || s.Weather.Location != "Paris" {
		t.Errorf("Weather = %+v, want Paris", s.Weather)
	}
	if s.Loading {
		t.Error("Loading = true after both searches finished")
	}
}

func TestWidget_FetchSuggestions_ShortQuery(t *testing.T) {
	for _, q := range []string{"", "L", "Lo", "  Lo ", "Zü"} {
		t.Run(q, func(t *testing.T) {
			f := newFakeBackend()
			w := New(f)
			ctx := context.Background()
			w.FetchSuggestions(ctx, "Lon")

			w.FetchSuggestions(ctx, q)

			if s := w.State().Suggestions; len(s) != 0 {
				t.Errorf("Suggestions = %v, want empty", s)
			}
			if len(f.suggested) != 1 {
				t.Errorf("backend called %d times, want 1 (only the 3-char query)", len(f.suggested))
			}
		})
	}
}

func TestWidget_FetchSuggestions_Limit(t *testing.T) {
	w := New(newFakeBackend())
	w.FetchSuggestions(context.Background(), "Lon")

	s := w.State().Suggestions
	if len(s) != DefaultSuggestionLimit {
		t.Fatalf("Suggestions = %v, want %d entries", s, DefaultSuggestionLimit)
	}
	if s[0] != "London" {
		t.Errorf("Suggestions[0] = %q, want London", s[0])
	}
}

func TestWidget_FetchSuggestions_CustomRules(t *testing.T) {
	f := newFakeBackend()
	f.suggestions["pa"] = []string{"Paris", "Parma", "Patna"}
	w := New(f, WithSuggestionRules(2, 2))
	w.FetchSuggestions(context.Background(), "Pa")

	if s := w.State().Suggestions; len(s) != 2 || s[1] != "Parma" {
		t.Errorf("Suggestions = %v, want [Paris Parma]", s)
	}
}

// TestWidget_FetchSuggestions_FailureSwallowed verifies failures are logged and
// leave the list empty without touching the error line.
func TestWidget_FetchSuggestions_FailureSwallowed(t *testing.T) {
	f := newFakeBackend()
	core, logs := observer.New(zap.WarnLevel)
	w := New(f, WithLogger(zap.New(core)))
	ctx := context.Background()

	w.FetchSuggestions(ctx, "Lon")
	f.mu.Lock()
	f.suggestErr = errors.New("geocoder down")
	f.mu.Unlock()
	w.FetchSuggestions(ctx, "Lond")

	s := w.State()
	if len(s.Suggestions) != 0 {
		t.Errorf("Suggestions = %v, want empty", s.Suggestions)
	}
	if s.Error != "" {
		t.Errorf("Error = %q, want untouched", s.Error)
	}
	if logs.FilterMessage("error fetching city suggestions").Len() != 1 {
		t.Errorf("expected one warning log, got %v", logs.All())
	}
}

// TestWidget_FetchSuggestions_OutOfOrder verifies a slow response for an older
// keystroke is discarded when a newer one has already been applied.
func TestWidget_FetchSuggestions_OutOfOrder(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()

	slow := f.gate("suggest:lon")
	done := make(chan struct{})
	go func() {
		w.SetQuery(ctx, "Lon")
		close(done)
	}()
	awaitEntered(t, f, "suggest:lon")

	w.SetQuery(ctx, "Londo")
	close(slow)
	<-done

	s := w.State()
	if s.Query != "Londo" {
		t.Errorf("Query = %q, want Londo", s.Query)
	}
	if len(s.Suggestions) != 2 {
		t.Errorf("Suggestions = %v, want the Londo result (2 entries)", s.Suggestions)
	}
}

// TestWidget_SelectSuggestion verifies selection sets the query, clears the list
// immediately and searches for the name.
func TestWidget_SelectSuggestion(t *testing.T) {
	f := newFakeBackend()
	var mu sync.Mutex
	var history []State
	w := New(f, WithOnChange(func(s State) {
		mu.Lock()
		history = append(history, s)
		mu.Unlock()
	}))
	ctx := context.Background()

	w.SetQuery(ctx, "Lon")
	if !containsName(w.State().Suggestions, "London") {
		t.Fatalf("Suggestions = %v, want London included", w.State().Suggestions)
	}

	mu.Lock()
	history = nil
	mu.Unlock()
	if !w.SelectSuggestionAt(ctx, 0) {
		t.Fatal("SelectSuggestionAt(0) = false")
	}

	mu.Lock()
	first := history[0]
	mu.Unlock()
	if first.Query != "London" || len(first.Suggestions) != 0 {
		t.Errorf("first change after select = %+v, want query London and no suggestions", first)
	}

	s := w.State()
	if s.Weather == nil || s.Weather.Location != "London" {
		t.Fatalf("Weather = %+v, want London", s.Weather)
	}
	if len(s.Suggestions) != 0 {
		t.Errorf("Suggestions = %v, want empty", s.Suggestions)
	}
	if f.searched[len(f.searched)-1] != "London" {
		t.Errorf("last search = %q, want London", f.searched[len(f.searched)-1])
	}
}

// TestWidget_Submit verifies a submitted query is searched and recorded without a
// suggestion lookup.
func TestWidget_Submit(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()
	w.FetchSuggestions(ctx, "Par")

	w.Submit(ctx, "Paris")

	s := w.State()
	if s.Query != "Paris" || len(s.Suggestions) != 0 {
		t.Errorf("state = %+v, want query Paris and no suggestions", s)
	}
	if s.Weather == nil || s.Weather.Location != "Paris" {
		t.Errorf("Weather = %+v, want Paris", s.Weather)
	}
	if len(f.suggested) != 1 {
		t.Errorf("backend suggest calls = %v, want only the typed Par", f.suggested)
	}
}

// TestWidget_SelectSuggestion_DropsInFlightLookup verifies a suggestion lookup that
// finishes after a selection cannot repopulate the cleared list.
func TestWidget_SelectSuggestion_DropsInFlightLookup(t *testing.T) {
	f := newFakeBackend()
	w := New(f)
	ctx := context.Background()

	slow := f.gate("suggest:lond")
	done := make(chan struct{})
	go func() {
		w.FetchSuggestions(ctx, "Lond")
		close(done)
	}()
	awaitEntered(t, f, "suggest:lond")

	w.SelectSuggestion(ctx, "London")
	close(slow)
	<-done

	if s := w.State().Suggestions; len(s) != 0 {
		t.Errorf("Suggestions = %v, want empty after selection", s)
	}
}

func TestWidget_SelectSuggestionAt_OutOfRange(t *testing.T) {
	w := New(newFakeBackend())
	if w.SelectSuggestionAt(context.Background(), 0) {
		t.Error("SelectSuggestionAt(0) on empty list = true")
	}
}

// TestWidget_Mount verifies the default city is searched once on first display.
func TestWidget_Mount(t *testing.T) {
	f := newFakeBackend()
	w := New(f, WithDefaultCity("Paris"))
	ctx := context.Background()

	w.Mount(ctx)
	w.Mount(ctx)

	if len(f.searched) != 1 || f.searched[0] != "Paris" {
		t.Errorf("searched = %v, want [Paris]", f.searched)
	}
	if s := w.State(); s.Weather == nil || s.Weather.Location != "Paris" {
		t.Errorf("Weather = %+v, want Paris", s.Weather)
	}
}

// TestWidget_LonToLondon walks the type-ahead example end to end.
func TestWidget_LonToLondon(t *testing.T) {
	w := New(newFakeBackend())
	ctx := context.Background()

	w.SetQuery(ctx, "Lon")
	if !containsName(w.State().Suggestions, "London") {
		t.Fatalf("Suggestions = %v", w.State().Suggestions)
	}
	w.SelectSuggestion(ctx, "London")

	s := w.State()
	if s.Weather == nil || s.Weather.Location != "London" {
		t.Fatalf("Weather = %+v", s.Weather)
	}
}

func TestWidget_StateIsCopy(t *testing.T) {
	w := New(newFakeBackend())
	ctx := context.Background()
	w.Search(ctx, "London")
	w.FetchSuggestions(ctx, "Par")

	s := w.State()
	s.Suggestions[0] = "mutated"
	s.Weather.Location = "mutated"

	again := w.State()
	if again.Suggestions[0] != "Paris" || again.Weather.Location != "London" {
		t.Errorf("State() leaked internal storage: %+v", again)
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
