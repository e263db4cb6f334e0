package sweep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/sink"
)

// Sink is the output interface for progress events.
type Sink = sink.Sink

// Event is one progress event.
type Event = event.Event

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewJournalSink opens (or creates) a SQLite progress journal at path.
func NewJournalSink(path string) (Sink, error) {
	return sink.OpenJournal(path)
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn func(ctx context.Context, ev Event) error) Sink {
	return sink.NewCallback(fn)
}

// BuildSinks creates the sinks named in the configuration. On error the
// sinks already opened are closed.
func BuildSinks(cfgs []SinkConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for i, sc := range cfgs {
		var s Sink
		switch sc.Type {
		case "stdout":
			s = NewStdoutSink(os.Stdout)
		case "webhook":
			if sc.URL == "" {
				closeSinks(out)
				return nil, fmt.Errorf("sweep: sink %d: webhook needs a url", i)
			}
			s = NewWebhookSink(sc.URL, logger)
		case "journal":
			if sc.Path == "" {
				closeSinks(out)
				return nil, fmt.Errorf("sweep: sink %d: journal needs a path", i)
			}
			j, err := NewJournalSink(sc.Path)
			if err != nil {
				closeSinks(out)
				return nil, fmt.Errorf("sweep: sink %d: %w", i, err)
			}
			s = j
		default:
			closeSinks(out)
			return nil, fmt.Errorf("sweep: sink %d: unknown type %q", i, sc.Type)
		}
		out = append(out, s)
	}
	return out, nil
}

func closeSinks(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}
