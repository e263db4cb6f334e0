// CLAUDE:SUMMARY Progress event types emitted by a campaign to sinks: campaign, pass, item and confirmation kinds.
// Package event defines the progress records a campaign emits. Events are
// fire-and-forget: nothing in the engine waits for their delivery.
package event

import "time"

// Kind classifies an event.
type Kind string

const (
	CampaignStarted  Kind = "campaign.started"
	CampaignFinished Kind = "campaign.finished"
	PassStarted      Kind = "pass.started"
	PassEnded        Kind = "pass.ended"
	ItemOutcome      Kind = "item.outcome"
	// ConfirmationUncertain: a destructive step fired but could not be
	// verified. The item's remote state is unknown.
	ConfirmationUncertain Kind = "confirmation.uncertain"
	// ConfirmationUnresolved: an uncertain item was seen again on a later
	// enumeration and will be retried.
	ConfirmationUnresolved Kind = "confirmation.unresolved"
	// ConfirmationGone: an uncertain item is no longer in the list.
	ConfirmationGone Kind = "confirmation.gone"
)

// Counters is the running tally of a campaign.
type Counters struct {
	Successful int `json:"successful"`
	Attempts   int `json:"attempts"`
	Passes     int `json:"passes"`
	Skipped    int `json:"skipped"`
	NotFound   int `json:"not_found"`
	Failed     int `json:"failed"`
	Stale      int `json:"stale"`
	Uncertain  int `json:"uncertain"`
}

// Event is one progress record. Seq increases by one per event within a run.
type Event struct {
	RunID    string    `json:"run_id"`
	Seq      int64     `json:"seq"`
	Time     time.Time `json:"time"`
	Kind     Kind      `json:"kind"`
	Campaign string    `json:"campaign"`
	Pass     int       `json:"pass"`
	// Discovered is the number of new identities seen in the pass.
	Discovered int      `json:"discovered,omitempty"`
	Identity   string   `json:"identity,omitempty"`
	Outcome    string   `json:"outcome,omitempty"`
	State      string   `json:"state,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Text       string   `json:"text,omitempty"`
	Counters   Counters `json:"counters"`
}
