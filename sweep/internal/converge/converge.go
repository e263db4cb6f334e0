// CLAUDE:SUMMARY Convergence policy bounding an unbounded feed: empty-pass streak, attempt cap, target count, pass cap.
// Package converge decides when a campaign has explored enough of an
// infinite feed. The feed never says "end of list", so the end is inferred
// from a streak of unproductive passes, backed by hard caps.
package converge

import "fmt"

// Reason is why a campaign stopped.
type Reason string

const (
	TargetReached Reason = "target_reached"
	Converged     Reason = "converged"
	AttemptCapHit Reason = "attempt_cap_hit"
	PassCapHit    Reason = "pass_cap_hit"
	Error         Reason = "error"
	Cancelled     Reason = "cancelled"
)

// Defaults.
const (
	DefaultEmptyPasses = 3
	DefaultPassCap     = 70
)

// Limits bound a campaign. Zero AttemptCap or Target disables that check.
type Limits struct {
	// EmptyPasses is K: consecutive unproductive passes before stopping.
	EmptyPasses int
	// AttemptCap bounds workflow attempts over the whole run.
	AttemptCap int
	// Target is the requested number of successes (sampled campaigns).
	Target int
	// PassCap is the safety valve on total passes.
	PassCap int
}

func (l *Limits) defaults() {
	if l.EmptyPasses <= 0 {
		l.EmptyPasses = DefaultEmptyPasses
	}
	if l.PassCap <= 0 {
		l.PassCap = DefaultPassCap
	}
}

// Policy tracks counters against Limits. Not safe for concurrent use.
type Policy struct {
	limits Limits

	passes      int
	attempts    int
	successes   int
	emptyStreak int
}

// New creates a Policy. EmptyPasses and PassCap are forced positive so
// every campaign terminates.
func New(l Limits) *Policy {
	l.defaults()
	return &Policy{limits: l}
}

// Limits returns the effective limits.
func (p *Policy) Limits() Limits { return p.limits }

// Attempt records one workflow attempt.
func (p *Policy) Attempt() { p.attempts++ }

// Success records one successful action.
func (p *Policy) Success() { p.successes++ }

// EndPass closes a pass. A pass that discovered at least one new item or
// produced at least one success resets the empty streak.
func (p *Policy) EndPass(discovered, succeeded int) {
	p.passes++
	if discovered > 0 || succeeded > 0 {
		p.emptyStreak = 0
		return
	}
	p.emptyStreak++
}

// Done reports whether the campaign must stop, and why. It is checked after
// every workflow and every pass.
func (p *Policy) Done() (Reason, bool) {
	l := p.limits
	switch {
	case l.Target > 0 && p.successes >= l.Target:
		return TargetReached, true
	case l.AttemptCap > 0 && p.attempts >= l.AttemptCap:
		return AttemptCapHit, true
	case p.emptyStreak >= l.EmptyPasses:
		return Converged, true
	case p.passes >= l.PassCap:
		return PassCapHit, true
	}
	return "", false
}

// CanAttempt reports whether another attempt fits under the attempt cap
// and the target.
func (p *Policy) CanAttempt() bool {
	l := p.limits
	if l.AttemptCap > 0 && p.attempts >= l.AttemptCap {
		return false
	}
	if l.Target > 0 && p.successes >= l.Target {
		return false
	}
	return true
}

// Passes, Attempts, Successes and EmptyStreak expose the counters.
func (p *Policy) Passes() int      { return p.passes }
func (p *Policy) Attempts() int    { return p.attempts }
func (p *Policy) Successes() int   { return p.successes }
func (p *Policy) EmptyStreak() int { return p.emptyStreak }

func (p *Policy) String() string {
	return fmt.Sprintf("pass %d/%d attempts %d/%d successes %d/%d empty %d/%d",
		p.passes, p.limits.PassCap, p.attempts, p.limits.AttemptCap,
		p.successes, p.limits.Target, p.emptyStreak, p.limits.EmptyPasses)
}
