package widget

import (
	"fmt"
	"io"
	"strconv"
)

// Render writes s as plain text in the widget's display order: suggestions,
// loading line, error line, then the weather block.
func Render(out io.Writer, s State) error {
	ew := &errWriter{w: out}

	for i, name := range s.Suggestions {
		ew.printf("  /%d %s\n", i+1, name)
	}
	if s.Loading {
		ew.printf("Loading...\n")
	}
	if s.Error != "" {
		ew.printf("! %s\n", s.Error)
	}
	if v := s.Weather; v != nil {
		if v.IconURL != "" {
			ew.printf("[%s]\n", v.IconURL)
		}
		ew.printf("%d°C\n", v.Temperature)
		ew.printf("%s\n", v.Location)
		ew.printf("Humidity: %d%%\n", v.Humidity)
		ew.printf("Wind Speed: %s m/s\n", strconv.FormatFloat(v.WindSpeed, 'f', -1, 64))
	}
	return ew.err
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
