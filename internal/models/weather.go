package models

// WeatherView is what the widget displays for one successful search.
type WeatherView struct {
	Temperature int     `json:"temperature"` // °C, rounded up
	Location    string  `json:"location"`
	Humidity    int     `json:"humidity"` // percent
	WindSpeed   float64 `json:"windSpeed"`
	IconURL     string  `json:"iconUrl"`
}

// CitySuggestion is one geocoding match. The widget only surfaces Name.
type CitySuggestion struct {
	Name    string  `json:"name"`
	Country string  `json:"country,omitempty"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Names returns the suggestion names in order.
func Names(suggestions []CitySuggestion) []string {
	out := make([]string, 0, len(suggestions))
	for _, s := range suggestions {
		out = append(out, s.Name)
	}
	return out
}
