package workflow

import "fmt"

// Outcome is the tagged result of running a workflow on one item.
type Outcome int

const (
	// Succeeded: the action completed and was observed.
	Succeeded Outcome = iota + 1
	// SkippedByPredicate: the item failed the campaign predicate.
	SkippedByPredicate
	// ControlNotFound: the control or the effect never materialised.
	ControlNotFound
	// TransientFailure: the interaction ran but had no effect, after one retry.
	TransientFailure
	// ItemStale: the handle was invalidated; re-enumerate and try again.
	ItemStale
	// ConfirmationUncertain: a destructive step fired but its confirmation
	// could not be completed or observed. The item's state is unknown.
	ConfirmationUncertain
)

var outcomeNames = map[Outcome]string{
	Succeeded:             "succeeded",
	SkippedByPredicate:    "skipped_by_predicate",
	ControlNotFound:       "control_not_found",
	TransientFailure:      "transient_failure",
	ItemStale:             "item_stale",
	ConfirmationUncertain: "confirmation_uncertain",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalText encodes the outcome name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	for k, v := range outcomeNames {
		if v == string(b) {
			*o = k
			return nil
		}
	}
	return fmt.Errorf("workflow: unknown outcome %q", b)
}

// Terminal reports whether the item is settled for this run: it is added
// to the processed set and never attempted again. ItemStale and
// ConfirmationUncertain leave the item eligible for a fresh handle.
func (o Outcome) Terminal() bool {
	switch o {
	case Succeeded, SkippedByPredicate, ControlNotFound, TransientFailure:
		return true
	}
	return false
}

// State is a step of the workflow state machine.
type State int

const (
	Idle State = iota
	LocatingControl
	Invoking
	AwaitingEffect
	EvaluatingPredicate
	Confirming
	Done
	Failed
)

var stateNames = [...]string{
	Idle:                "idle",
	LocatingControl:     "locating_control",
	Invoking:            "invoking",
	AwaitingEffect:      "awaiting_effect",
	EvaluatingPredicate: "evaluating_predicate",
	Confirming:          "confirming",
	Done:                "done",
	Failed:              "failed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
