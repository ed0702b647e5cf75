// Command widget runs the weather search box in a terminal.
//
// Type a city name to see suggestions, then pick one with /N or search the typed
// text with /search. /quit exits.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-search-widget/internal/app"
	"github.com/kjstillabower/weather-search-widget/internal/config"
	"github.com/kjstillabower/weather-search-widget/internal/observability"
	"github.com/kjstillabower/weather-search-widget/internal/widget"
)

const prompt = "> "

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	stack, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal("wiring", zap.Error(err))
	}
	defer func() { _ = stack.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := widget.New(stack.Service, stack.WidgetOptions()...)
	if err := run(ctx, os.Stdin, os.Stdout, w); err != nil {
		logger.Error("widget", zap.Error(err))
	}
}

// run mounts w and then applies one command per input line, rendering the state
// after each. It returns when input ends, /quit is read, or ctx is done.
func run(ctx context.Context, in io.Reader, out io.Writer, w *widget.Widget) error {
	w.Mount(ctx)
	if err := show(out, w); err != nil {
		return err
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := apply(ctx, out, w, line)
			if err != nil || quit {
				return err
			}
			if err := show(out, w); err != nil {
				return err
			}
		}
	}
}

// apply executes one input line. It reports true when the user asked to quit.
func apply(ctx context.Context, out io.Writer, w *widget.Widget, line string) (bool, error) {
	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "/quit":
		return true, nil
	case cmd == "/search":
		w.Search(ctx, w.State().Query)
	case strings.HasPrefix(cmd, "/search "):
		w.Submit(ctx, strings.TrimSpace(strings.TrimPrefix(cmd, "/search ")))
	case strings.HasPrefix(cmd, "/"):
		n, err := strconv.Atoi(cmd[1:])
		if err != nil || !w.SelectSuggestionAt(ctx, n-1) {
			_, err := fmt.Fprintf(out, "unknown command %q\n", cmd)
			return false, err
		}
	default:
		w.SetQuery(ctx, line)
	}
	return false, nil
}

func show(out io.Writer, w *widget.Widget) error {
	if err := widget.Render(out, w.State()); err != nil {
		return err
	}
	_, err := io.WriteString(out, prompt)
	return err
}
