// Package sink defines output backends for campaign progress events.
package sink

import (
	"context"

	"github.com/hazyhaar/feedsweep/sweep/event"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, SQLite journal, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
	Close() error
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
