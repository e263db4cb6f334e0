// CLAUDE:SUMMARY Campaign kinds, requests with validation, results, and the workflow definition of each campaign.
package sweep

import (
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/converge"
	"github.com/hazyhaar/feedsweep/sweep/internal/identity"
	"github.com/hazyhaar/feedsweep/sweep/internal/navigate"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
	"github.com/hazyhaar/feedsweep/sweep/internal/workflow"
)

// Kind selects a campaign.
type Kind string

const (
	// Unlike retracts every like on the liked-posts list.
	Unlike Kind = "unlike"
	// Like likes a random sample of search results.
	Like Kind = "like"
	// Delete removes own posts that have no engagement.
	Delete Kind = "delete"
)

// MaxCount bounds Request.Count.
const MaxCount = 3000

// DefaultTabs are the profile tabs a delete campaign sweeps when none are named.
var DefaultTabs = []string{"Posts"}

// Request describes one campaign.
type Request struct {
	Kind Kind `json:"kind"`
	// Count is the number of successes to stop at. Required for Like;
	// optional for Unlike and Delete, where zero means no target.
	Count int `json:"count,omitempty"`
	// Query is the search text for Like.
	Query string `json:"query,omitempty"`
	// Tabs are the profile timeline tabs for Delete.
	Tabs []string `json:"tabs,omitempty"`
}

// Validate checks the request. Errors wrap ErrInvalidRequest.
func (r Request) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
	}
	switch r.Kind {
	case Unlike, Like, Delete:
	default:
		return bad("unknown kind %q", r.Kind)
	}
	if r.Count < 0 || r.Count > MaxCount {
		return bad("count must be between 0 and %d", MaxCount)
	}
	if r.Kind == Like {
		if r.Count < 1 {
			return bad("like needs a count between 1 and %d", MaxCount)
		}
		if strings.TrimSpace(r.Query) == "" {
			return bad("like needs a search query")
		}
	}
	for _, t := range r.Tabs {
		if strings.TrimSpace(t) == "" {
			return bad("empty tab name")
		}
	}
	if len(r.Tabs) > 0 && r.Kind != Delete {
		return bad("tabs only apply to delete")
	}
	return nil
}

// targets returns the feeds the request sweeps, in order.
func (r Request) targets() []navigate.Target {
	switch r.Kind {
	case Like:
		return []navigate.Target{{Kind: navigate.Search, Query: strings.TrimSpace(r.Query)}}
	case Delete:
		tabs := r.Tabs
		if len(tabs) == 0 {
			tabs = DefaultTabs
		}
		out := make([]navigate.Target, len(tabs))
		for i, t := range tabs {
			out[i] = navigate.Target{Kind: navigate.ProfileTab, Tab: strings.TrimSpace(t)}
		}
		return out
	}
	return []navigate.Target{{Kind: navigate.Likes}}
}

// Reason is why a campaign stopped.
type Reason = converge.Reason

const (
	TargetReached = converge.TargetReached
	Converged     = converge.Converged
	AttemptCapHit = converge.AttemptCapHit
	PassCapHit    = converge.PassCapHit
	ReasonError   = converge.Error
	Cancelled     = converge.Cancelled
)

// ItemID identifies a feed item: its permalink, or a positional key when
// none could be read.
type ItemID = identity.ID

// Segment is the part of a result produced on one feed.
type Segment struct {
	Target     string `json:"target"`
	Successful int    `json:"successful"`
	Passes     int    `json:"passes"`
	Reason     Reason `json:"reason"`
}

// Result summarises a finished campaign.
type Result struct {
	RunID           string `json:"run_id"`
	Kind            Kind   `json:"kind"`
	TotalSuccessful int    `json:"total_successful"`
	TotalPasses     int    `json:"total_passes"`
	TotalAttempts   int    `json:"total_attempts"`
	Skipped         int    `json:"skipped"`
	NotFound        int    `json:"not_found"`
	Failed          int    `json:"failed"`
	Stale           int    `json:"stale"`
	Uncertain       int    `json:"uncertain"`
	Reason          Reason `json:"reason"`
	// Err is set when Reason is ReasonError.
	Err        error     `json:"-"`
	Error      string    `json:"error,omitempty"`
	Processed  []ItemID  `json:"processed,omitempty"`
	Segments   []Segment `json:"segments,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Counters returns the running tally in event form.
func (r *Result) Counters() event.Counters {
	return event.Counters{
		Successful: r.TotalSuccessful,
		Attempts:   r.TotalAttempts,
		Passes:     r.TotalPasses,
		Skipped:    r.Skipped,
		NotFound:   r.NotFound,
		Failed:     r.Failed,
		Stale:      r.Stale,
		Uncertain:  r.Uncertain,
	}
}

func (r *Result) fail(err error) {
	r.Reason = ReasonError
	r.Err = err
	r.Error = err.Error()
}

// definition returns the workflow of a campaign kind.
func definition(k Kind) workflow.Definition {
	switch k {
	case Like:
		return workflow.Definition{
			Name:         string(Like),
			Style:        workflow.Toggle,
			Primary:      resolve.LikeControl,
			Effect:       resolve.UnlikeControl,
			SkipPromoted: true,
		}
	case Delete:
		return workflow.Definition{
			Name:      string(Delete),
			Style:     workflow.Menu,
			Primary:   resolve.OverflowMenu,
			Effect:    resolve.MenuItemDelete,
			Predicate: workflow.NoEngagement,
			Confirm:   resolve.ConfirmButton,
			Mutates:   true,
		}
	}
	return workflow.Definition{
		Name:    string(Unlike),
		Style:   workflow.Toggle,
		Primary: resolve.UnlikeControl,
		Effect:  resolve.LikeControl,
	}
}

// defaultEmptyPasses is the convergence threshold per campaign kind.
func defaultEmptyPasses(k Kind) int {
	if k == Unlike {
		return 5
	}
	return converge.DefaultEmptyPasses
}
