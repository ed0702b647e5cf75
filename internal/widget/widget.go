// Package widget is the view-model behind the weather search box: the query,
// the type-ahead suggestion list, and the loading/error/result block.
//
// Operations may be called from any goroutine. A weather search and suggestion
// lookups can be in flight at the same time; each operation takes a token, and a
// response whose token has been superseded is dropped instead of applied.
package widget

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-search-widget/internal/models"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
)

const (
	// ErrorMessage is shown for every failed search, whatever the cause.
	ErrorMessage = "City not found"

	DefaultCity                = "London"
	DefaultSuggestionMinLength = 3
	DefaultSuggestionLimit     = 5
)

// Backend performs the two remote lookups. *service.WeatherService implements it.
type Backend interface {
	GetWeather(ctx context.Context, city string) (models.WeatherView, error)
	Suggest(ctx context.Context, query string) ([]string, error)
}

// State is a snapshot of everything the widget renders.
type State struct {
	Query       string
	Suggestions []string
	Loading     bool
	Error       string // empty when there is no error
	Weather     *models.WeatherView
}

// Option configures a Widget.
type Option func(*Widget)

// WithDefaultCity sets the city searched by Mount.
func WithDefaultCity(city string) Option {
	return func(w *Widget) { w.defaultCity = city }
}

// WithSuggestionRules sets the minimum query length and the maximum list size.
func WithSuggestionRules(minLength, limit int) Option {
	return func(w *Widget) {
		if minLength > 0 {
			w.minLength = minLength
		}
		if limit > 0 {
			w.limit = limit
		}
	}
}

// WithLogger sets the logger used for swallowed suggestion failures.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Widget) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOnChange registers fn to receive a snapshot after every state change.
// fn runs on the goroutine that made the change, outside the widget lock.
func WithOnChange(fn func(State)) Option {
	return func(w *Widget) { w.onChange = fn }
}

// Widget holds the view state. The zero value is not usable; call New.
type Widget struct {
	backend     Backend
	defaultCity string
	minLength   int
	limit       int
	logger      *zap.Logger
	onChange    func(State)
	mountOnce   sync.Once

	mu            sync.Mutex
	state         State
	searchSeq     uint64
	suggestionSeq uint64
}

// New creates a widget bound to backend.
func New(backend Backend, opts ...Option) *Widget {
	w := &Widget{
		backend:     backend,
		defaultCity: DefaultCity,
		minLength:   DefaultSuggestionMinLength,
		limit:       DefaultSuggestionLimit,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns a copy of the current state.
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Mount runs the first-display search for the default city. Later calls do nothing.
func (w *Widget) Mount(ctx context.Context) {
	w.mountOnce.Do(func() {
		w.Search(ctx, w.defaultCity)
	})
}

// Search looks up city and replaces the displayed result. A blank city is ignored.
// On failure the error message is set and the previous result is cleared. Loading
// stays set until the most recent search finishes.
func (w *Widget) Search(ctx context.Context, city string) {
	city = strings.TrimSpace(city)
	if city == "" {
		return
	}

	w.mu.Lock()
	w.searchSeq++
	token := w.searchSeq
	w.suggestionSeq++ // a lookup still in flight must not repopulate the list
	w.state.Loading = true
	w.state.Error = ""
	w.state.Suggestions = nil
	w.commitLocked()

	view, err := w.backend.GetWeather(ctx, city)

	w.mu.Lock()
	if token != w.searchSeq {
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.logger.Debug("weather search failed", zap.String("city", city), zap.Error(err))
		w.state.Error = ErrorMessage
		w.state.Weather = nil
	} else {
		w.state.Weather = &view
	}
	w.state.Loading = false
	w.commitLocked()
}

// SetQuery records the text in the search box and refreshes suggestions for it.
func (w *Widget) SetQuery(ctx context.Context, query string) {
	w.mu.Lock()
	w.state.Query = query
	w.commitLocked()

	w.FetchSuggestions(ctx, query)
}

// FetchSuggestions replaces the suggestion list with up to limit names for query.
// Queries shorter than the minimum length clear the list without a lookup. Lookup
// failures are logged and leave the list empty.
func (w *Widget) FetchSuggestions(ctx context.Context, query string) {
	w.mu.Lock()
	w.suggestionSeq++
	token := w.suggestionSeq
	if utf8.RuneCountInString(strings.TrimSpace(query)) < w.minLength {
		w.state.Suggestions = nil
		w.commitLocked()
		return
	}
	w.mu.Unlock()

	names, err := w.backend.Suggest(ctx, query)

	w.mu.Lock()
	if token != w.suggestionSeq {
		w.mu.Unlock()
		observability.StaleSuggestionsDroppedTotal.Inc()
		return
	}
	if err != nil {
		w.logger.Warn("error fetching city suggestions", zap.String("query", query), zap.Error(err))
		w.state.Suggestions = nil
	} else {
		if len(names) > w.limit {
			names = names[:w.limit]
		}
		w.state.Suggestions = append([]string(nil), names...)
	}
	w.commitLocked()
}

// SelectSuggestion puts name in the search box, clears the list, and searches for it.
func (w *Widget) SelectSuggestion(ctx context.Context, name string) {
	w.Submit(ctx, name)
}

// Submit records query as the search box text and searches for it without a
// suggestion lookup. Any outstanding lookup is dropped and the list is cleared.
func (w *Widget) Submit(ctx context.Context, query string) {
	w.mu.Lock()
	w.state.Query = query
	w.state.Suggestions = nil
	w.suggestionSeq++
	w.commitLocked()

	w.Search(ctx, query)
}

// SelectSuggestionAt selects the i-th (0-based) entry of the current list.
// It reports false if there is no such entry.
func (w *Widget) SelectSuggestionAt(ctx context.Context, i int) bool {
	w.mu.Lock()
	if i < 0 || i >= len(w.state.Suggestions) {
		w.mu.Unlock()
		return false
	}
	name := w.state.Suggestions[i]
	w.mu.Unlock()

	w.SelectSuggestion(ctx, name)
	return true
}

// commitLocked releases mu and notifies the change listener with a snapshot.
func (w *Widget) commitLocked() {
	snap := w.snapshotLocked()
	w.mu.Unlock()
	if w.onChange != nil {
		w.onChange(snap)
	}
}

func (w *Widget) snapshotLocked() State {
	s := w.state
	if s.Suggestions != nil {
		s.Suggestions = append([]string(nil), s.Suggestions...)
	}
	if s.Weather != nil {
		v := *s.Weather
		s.Weather = &v
	}
	return s
}
