// CLAUDE:SUMMARY In-process callback sink delivering events via Go function calls with zero serialization.
package sink

import (
	"context"

	"github.com/hazyhaar/feedsweep/sweep/event"
)

// Func is called for each event (in-process, zero serialisation).
type Func func(ctx context.Context, ev event.Event) error

// Callback delivers events via Go function calls. The control panel and the
// MCP status tool use it to follow a running campaign.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
