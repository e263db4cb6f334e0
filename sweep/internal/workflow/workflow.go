// CLAUDE:SUMMARY Per-item action state machine: locate, invoke, await effect, predicate, confirm. One retry, stale short-circuit.
// Package workflow runs one campaign action against one feed item.
//
// The machine walks Idle → LocatingControl → Invoking → AwaitingEffect →
// [EvaluatingPredicate] → [Confirming] → Done, or stops in Failed with a
// tagged Outcome. Outcomes are returned values; nothing is swallowed into
// log lines. A running workflow ignores cancellation of its context: an
// interrupted menu or confirmation would leave the remote UI half-done, so
// every wait is bounded by its own timeout instead.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
)

// Style selects how the effect of the primary control is observed.
type Style int

const (
	// Toggle: the primary control flips in place (like ⇄ unlike).
	Toggle Style = iota
	// Menu: the primary control opens a menu whose item must appear.
	Menu
)

func (s Style) String() string {
	if s == Menu {
		return "menu"
	}
	return "toggle"
}

// Definition parameterises the machine for one campaign.
type Definition struct {
	Name    string
	Style   Style
	Primary resolve.Role
	// Effect is the role that proves the invocation worked: the
	// counterpart control inside the item for Toggle, the dependent menu
	// item in the document for Menu.
	Effect resolve.Role
	// Predicate, when set, must hold on the captured engagement or the
	// item is skipped.
	Predicate func(Engagement) bool
	// Confirm, when set, is the confirmation control that must be invoked
	// after the Effect menu item (Menu style only).
	Confirm resolve.Role
	// Mutates reports that success removes the item from the list.
	Mutates bool
	// SkipPromoted ignores items carrying a promoted marker.
	SkipPromoted bool
}

// Validate checks the definition is coherent.
func (d Definition) Validate() error {
	if d.Primary == "" || d.Effect == "" {
		return fmt.Errorf("workflow: %s: primary and effect roles are required", d.Name)
	}
	if d.Confirm != "" && d.Style != Menu {
		return fmt.Errorf("workflow: %s: confirmation requires the menu style", d.Name)
	}
	return nil
}

// Timing holds the bounded waits of a workflow.
type Timing struct {
	// EffectTimeout bounds AwaitingEffect. Default: 5s.
	EffectTimeout time.Duration
	// ConfirmTimeout bounds the wait for the confirmation control. Default: 10s.
	ConfirmTimeout time.Duration
	// PollInterval is the re-check period of bounded waits. Default: 100ms.
	PollInterval time.Duration
	// ScrollSettle follows scrolling a control into view.
	ScrollSettle time.Duration
	// Hover follows hovering a control, for controls drawn on hover.
	Hover time.Duration
	// Dismiss follows clicking outside to close a menu.
	Dismiss time.Duration
}

// DefaultTiming returns the production waits.
func DefaultTiming() Timing {
	return Timing{
		EffectTimeout:  5 * time.Second,
		ConfirmTimeout: 10 * time.Second,
		PollInterval:   100 * time.Millisecond,
		ScrollSettle:   300 * time.Millisecond,
		Hover:          500 * time.Millisecond,
		Dismiss:        500 * time.Millisecond,
	}
}

func (t *Timing) defaults() {
	d := DefaultTiming()
	if t.EffectTimeout <= 0 {
		t.EffectTimeout = d.EffectTimeout
	}
	if t.ConfirmTimeout <= 0 {
		t.ConfirmTimeout = d.ConfirmTimeout
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
}

// Config configures a Machine.
type Config struct {
	Doc      dom.Document
	Resolver *resolve.Resolver
	Timing   Timing
	Logger   *slog.Logger
}

// Machine runs workflows against one document. It holds no per-item state.
type Machine struct {
	cfg Config
}

// New creates a Machine.
func New(cfg Config) *Machine {
	cfg.Timing.defaults()
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.New(nil, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Machine{cfg: cfg}
}

// Report is the result of one workflow run.
type Report struct {
	Outcome Outcome `json:"outcome"`
	// State is the last state entered: Done on success, the failing
	// state otherwise.
	State      State       `json:"state"`
	Engagement *Engagement `json:"engagement,omitempty"`
	Detail     string      `json:"detail,omitempty"`
	// Mutated tells the driver the list changed and must be re-enumerated.
	Mutated bool `json:"mutated,omitempty"`
	// Retried is set when an invocation or an effect wait was retried.
	Retried bool `json:"retried,omitempty"`
}

// run carries the state of one workflow execution.
type run struct {
	m    *Machine
	def  Definition
	item dom.Element
	log  *slog.Logger

	state    State
	control  dom.Element
	menuItem dom.Element
	retried  bool
	rep      Report
}

// Run executes def against item and returns its report. Cancellation of
// ctx is not observed until the workflow is terminal.
func (m *Machine) Run(ctx context.Context, def Definition, item dom.Element) Report {
	ctx = context.WithoutCancel(ctx)
	r := &run{m: m, def: def, item: item, log: m.cfg.Logger.With("workflow", def.Name), state: Idle}
	if err := def.Validate(); err != nil {
		return r.fail(ctx, TransientFailure, err.Error())
	}
	r.state = LocatingControl
	for {
		var done bool
		switch r.state {
		case LocatingControl:
			done = r.locate(ctx)
		case Invoking:
			done = r.invoke(ctx)
		case AwaitingEffect:
			done = r.await(ctx)
		case EvaluatingPredicate:
			done = r.evaluate(ctx)
		case Confirming:
			done = r.confirm(ctx)
		case Done:
			r.rep.Outcome = Succeeded
			r.rep.State = Done
			r.rep.Mutated = def.Mutates
			r.rep.Retried = r.retried
			return r.rep
		default:
			return r.fail(ctx, TransientFailure, "unexpected state "+r.state.String())
		}
		if done {
			r.rep.Retried = r.retried
			return r.rep
		}
	}
}

func (r *run) fail(ctx context.Context, o Outcome, detail string) Report {
	r.rep.Outcome = o
	r.rep.State = r.state
	r.rep.Detail = detail
	return r.rep
}

// stop records a failure and ends the run.
func (r *run) stop(o Outcome, detail string) bool {
	r.rep.Outcome = o
	r.rep.State = r.state
	r.rep.Detail = detail
	return true
}

// stopErr maps an interaction error to ItemStale or TransientFailure.
func (r *run) stopErr(ctx context.Context, err error, what string) bool {
	if r.state >= AwaitingEffect && r.def.Style == Menu {
		r.dismiss(ctx)
	}
	if dom.IsStale(err) {
		return r.stop(ItemStale, what+": "+err.Error())
	}
	return r.stop(TransientFailure, what+": "+err.Error())
}

func (r *run) locate(ctx context.Context) bool {
	res := r.m.cfg.Resolver
	if r.def.SkipPromoted && !r.retried {
		promoted, err := res.Present(ctx, r.m.cfg.Doc, r.item, resolve.PromotedMarker)
		if err != nil {
			return r.stopErr(ctx, err, "promoted check")
		}
		if promoted {
			return r.stop(ControlNotFound, "promoted item")
		}
	}
	el, err := res.Resolve(ctx, r.m.cfg.Doc, r.item, r.def.Primary)
	if err != nil {
		return r.stopErr(ctx, err, "locate "+string(r.def.Primary))
	}
	if el == nil {
		if r.retried {
			// The control vanished between attempts without the effect showing.
			return r.stop(TransientFailure, "control gone on retry")
		}
		return r.stop(ControlNotFound, string(r.def.Primary)+" not found")
	}
	r.control = el
	r.state = Invoking
	return false
}

func (r *run) invoke(ctx context.Context) bool {
	if err := r.m.click(ctx, r.control, r.log); err != nil {
		return r.stopErr(ctx, err, "invoke "+string(r.def.Primary))
	}
	r.state = AwaitingEffect
	return false
}

func (r *run) await(ctx context.Context) bool {
	t := r.m.cfg.Timing
	switch r.def.Style {
	case Menu:
		el, err := r.m.waitFor(ctx, nil, r.def.Effect, t.EffectTimeout)
		if err != nil {
			return r.stopErr(ctx, err, "await "+string(r.def.Effect))
		}
		if el == nil {
			r.dismiss(ctx)
			return r.stop(ControlNotFound, string(r.def.Effect)+" never appeared")
		}
		r.menuItem = el
	default:
		ok, err := r.m.waitToggle(ctx, r.item, r.def, t.EffectTimeout)
		if err != nil {
			return r.stopErr(ctx, err, "await "+string(r.def.Effect))
		}
		if !ok {
			if r.retried {
				return r.stop(TransientFailure, "no effect after retry")
			}
			r.log.Debug("workflow: no effect, retrying once")
			r.retried = true
			r.state = LocatingControl
			return false
		}
	}
	switch {
	case r.def.Predicate != nil:
		r.state = EvaluatingPredicate
	case r.def.Confirm != "":
		r.state = Confirming
	default:
		r.state = Done
	}
	return false
}

func (r *run) evaluate(ctx context.Context) bool {
	e, err := r.m.Capture(ctx, r.item)
	if err != nil {
		return r.stopErr(ctx, err, "capture engagement")
	}
	r.rep.Engagement = &e
	if !r.def.Predicate(e) {
		r.dismiss(ctx)
		return r.stop(SkippedByPredicate, e.String())
	}
	if r.def.Confirm != "" {
		r.state = Confirming
	} else {
		r.state = Done
	}
	return false
}

func (r *run) confirm(ctx context.Context) bool {
	t := r.m.cfg.Timing
	// Nothing destructive has happened yet: a failed click here is an
	// ordinary transient failure.
	if err := r.m.click(ctx, r.menuItem, r.log); err != nil {
		return r.stopErr(ctx, err, "invoke "+string(r.def.Effect))
	}

	uncertain := func(detail string) bool {
		r.dismiss(ctx)
		r.log.Warn("workflow: confirmation uncertain, item state unknown", "detail", detail)
		return r.stop(ConfirmationUncertain, detail)
	}

	btn, err := r.m.waitFor(ctx, nil, r.def.Confirm, t.ConfirmTimeout)
	if err != nil {
		return uncertain("await confirmation: " + err.Error())
	}
	if btn == nil {
		return uncertain(string(r.def.Confirm) + " never appeared")
	}
	if err := r.m.click(ctx, btn, r.log); err != nil {
		return uncertain("invoke confirmation: " + err.Error())
	}
	gone, err := r.m.waitGone(ctx, r.def.Confirm, t.ConfirmTimeout)
	if err != nil {
		return uncertain("verify confirmation: " + err.Error())
	}
	if !gone {
		return uncertain(string(r.def.Confirm) + " still open after click")
	}
	r.state = Done
	return false
}

func (r *run) dismiss(ctx context.Context) {
	if err := r.m.cfg.Doc.ClickOutside(ctx); err != nil {
		r.log.Debug("workflow: dismiss failed", "error", err)
	}
	_ = sleep(ctx, r.m.cfg.Timing.Dismiss)
}

// click scrolls el into view, hovers it, and invokes it by script, falling
// back once to a pointer click. Staleness is returned immediately.
func (m *Machine) click(ctx context.Context, el dom.Element, log *slog.Logger) error {
	t := m.cfg.Timing
	if err := el.ScrollIntoView(ctx); err != nil {
		if dom.IsStale(err) {
			return err
		}
		log.Debug("workflow: scroll into view failed", "error", err)
	}
	_ = sleep(ctx, t.ScrollSettle)
	if err := el.Hover(ctx); err != nil {
		if dom.IsStale(err) {
			return err
		}
		log.Debug("workflow: hover failed", "error", err)
	}
	_ = sleep(ctx, t.Hover)

	scriptErr := el.ScriptClick(ctx)
	if scriptErr == nil {
		return nil
	}
	if dom.IsStale(scriptErr) {
		return scriptErr
	}
	log.Debug("workflow: script click failed, trying pointer", "error", scriptErr)
	pointerErr := el.PointerClick(ctx)
	if pointerErr == nil {
		return nil
	}
	return fmt.Errorf("workflow: click: script: %v: pointer: %w", scriptErr, pointerErr)
}

// waitFor polls role until it resolves or timeout. (nil, nil) on timeout.
func (m *Machine) waitFor(ctx context.Context, scope dom.Element, role resolve.Role, timeout time.Duration) (dom.Element, error) {
	var found dom.Element
	err := m.poll(ctx, timeout, func() (bool, error) {
		el, err := m.cfg.Resolver.Resolve(ctx, m.cfg.Doc, scope, role)
		found = el
		return el != nil, err
	})
	if errors.Is(err, errTimeout) {
		return nil, nil
	}
	return found, err
}

// waitGone polls until role no longer resolves in the document.
func (m *Machine) waitGone(ctx context.Context, role resolve.Role, timeout time.Duration) (bool, error) {
	err := m.poll(ctx, timeout, func() (bool, error) {
		el, err := m.cfg.Resolver.Resolve(ctx, m.cfg.Doc, nil, role)
		if dom.IsStale(err) {
			return true, nil
		}
		return el == nil, err
	})
	if errors.Is(err, errTimeout) {
		return false, nil
	}
	return err == nil, err
}

// waitToggle polls until the counterpart control appears in item or the
// primary control disappears.
func (m *Machine) waitToggle(ctx context.Context, item dom.Element, def Definition, timeout time.Duration) (bool, error) {
	res := m.cfg.Resolver
	err := m.poll(ctx, timeout, func() (bool, error) {
		effect, err := res.Present(ctx, m.cfg.Doc, item, def.Effect)
		if err != nil || effect {
			return effect, err
		}
		primary, err := res.Present(ctx, m.cfg.Doc, item, def.Primary)
		return !primary, err
	})
	if errors.Is(err, errTimeout) {
		return false, nil
	}
	return err == nil, err
}

var errTimeout = errors.New("workflow: wait timed out")

// poll evaluates cond immediately and then every PollInterval until it
// holds, fails, or timeout elapses.
func (m *Machine) poll(ctx context.Context, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			return errTimeout
		}
		if err := sleep(ctx, min(m.cfg.Timing.PollInterval, time.Until(deadline))); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
