// CLAUDE:SUMMARY Engine driver: runs a campaign over one or more feeds (enumerate, dedupe, act, converge) and emits progress events.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazyhaar/feedsweep/idgen"
	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/config"
	"github.com/hazyhaar/feedsweep/sweep/internal/converge"
	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
	"github.com/hazyhaar/feedsweep/sweep/internal/feed"
	"github.com/hazyhaar/feedsweep/sweep/internal/identity"
	"github.com/hazyhaar/feedsweep/sweep/internal/navigate"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
	"github.com/hazyhaar/feedsweep/sweep/internal/sink"
	"github.com/hazyhaar/feedsweep/sweep/internal/workflow"
)

// Document is the live page a campaign acts on.
type Document = dom.Document

// NavigateFunc opens a feed. It is called once per feed and never retried.
type NavigateFunc func(ctx context.Context, target navigate.Target) error

// EngineConfig configures an Engine.
type EngineConfig struct {
	Doc Document
	// Navigate opens each feed of a request. Nil means the document is
	// already on the right feed.
	Navigate NavigateFunc
	// Table overrides the selector table. Nil selects the default.
	Table  resolve.Table
	Timing config.TimingConfig
	Limits config.LimitsConfig
	// Sink receives progress events. Nil discards them.
	Sink sink.Sink
	// RunID names the run in events and results. Empty generates one.
	RunID string
	// Rand drives the sampled campaign and pause jitter. Nil seeds one randomly.
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Engine runs campaigns against one document. It owns the document for
// the duration of Run and is not safe for concurrent use.
type Engine struct {
	cfg      EngineConfig
	resolver *resolve.Resolver
	machine  *workflow.Machine
	limiter  *rate.Limiter
	rng      *rand.Rand
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Limits.MaxRestartsPerPass <= 0 {
		cfg.Limits.MaxRestartsPerPass = 50
	}
	if cfg.Limits.AttemptMultiplier <= 0 {
		cfg.Limits.AttemptMultiplier = 15
	}
	if cfg.Limits.SampleScroll <= 0 {
		cfg.Limits.SampleScroll = 500
	}
	res := resolve.New(cfg.Table, cfg.Logger)
	e := &Engine{
		cfg:      cfg,
		resolver: res,
		rng:      cfg.Rand,
		machine: workflow.New(workflow.Config{
			Doc:      cfg.Doc,
			Resolver: res,
			Logger:   cfg.Logger,
			Timing: workflow.Timing{
				EffectTimeout:  cfg.Timing.EffectTimeout,
				ConfirmTimeout: cfg.Timing.ConfirmTimeout,
				PollInterval:   cfg.Timing.PollInterval,
				ScrollSettle:   cfg.Timing.ScrollSettle,
				Hover:          cfg.Timing.Hover,
				Dismiss:        cfg.Timing.Dismiss,
			},
		}),
	}
	if apm := cfg.Timing.ActionsPerMinute; apm > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(apm/60), 1)
	}
	return e
}

// Run executes req and returns its result. A navigation failure returns
// an error wrapping ErrNavigation; an enumeration failure returns the
// underlying error. In both cases the partial result is returned too.
// Cancelling ctx stops the campaign after the running workflow completes.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	runID := e.cfg.RunID
	if runID == "" {
		runID = idgen.New()
	}
	res := &Result{RunID: runID, Kind: req.Kind, StartedAt: time.Now()}
	em := &emitter{runID: runID, campaign: string(req.Kind), sink: e.cfg.Sink, res: res, logger: e.cfg.Logger}
	log := e.cfg.Logger.With("run", runID, "campaign", req.Kind)

	log.Info("sweep: campaign started", "count", req.Count, "query", req.Query, "tabs", req.Tabs)
	em.emit(ctx, event.Event{Kind: event.CampaignStarted, Detail: fmt.Sprint(req.targets())})

	lg := newLedger()
	var runErr error
	for _, target := range req.targets() {
		if req.Count > 0 && res.TotalSuccessful >= req.Count {
			break
		}
		if ctx.Err() != nil {
			res.Reason = Cancelled
			break
		}
		if e.cfg.Navigate != nil {
			if err := e.cfg.Navigate(ctx, target); err != nil {
				runErr = fmt.Errorf("%w: %s: %w", ErrNavigation, target, err)
				res.fail(runErr)
				break
			}
		}
		c := e.newCampaign(req, target, lg, res, em, log)
		err := c.run(ctx)
		res.Segments = append(res.Segments, Segment{
			Target:     target.String(),
			Successful: c.successes,
			Passes:     c.policy.Passes(),
			Reason:     res.Reason,
		})
		if err != nil {
			runErr = err
			res.fail(err)
			break
		}
	}

	res.FinishedAt = time.Now()
	em.emit(ctx, event.Event{Kind: event.CampaignFinished, Detail: string(res.Reason)})
	log.Info("sweep: campaign finished",
		"reason", res.Reason, "successful", res.TotalSuccessful, "passes", res.TotalPasses,
		"attempts", res.TotalAttempts, "uncertain", res.Uncertain, "elapsed", res.FinishedAt.Sub(res.StartedAt))
	return res, runErr
}

// ledger is the processed set of one run, shared by all of its feeds.
type ledger struct {
	processed *identity.Tracker
	// uncertain counts ConfirmationUncertain outcomes of unprocessed items.
	uncertain map[identity.ID]int
}

func newLedger() *ledger {
	return &ledger{processed: identity.NewTracker(), uncertain: make(map[identity.ID]int)}
}

// campaign is the state of one campaign on one feed.
type campaign struct {
	e      *Engine
	kind   Kind
	def    workflow.Definition
	target navigate.Target
	feed   *feed.Controller
	policy *converge.Policy
	res    *Result
	em     *emitter
	log    *slog.Logger

	*ledger
	// known holds every identity enumerated on this feed, for discovery counts.
	known map[identity.ID]struct{}
	// pending holds uncertain items not yet re-checked on this feed.
	pending map[identity.ID]struct{}

	enumerations int
	successes    int
	pass         int
}

func (e *Engine) newCampaign(req Request, target navigate.Target, lg *ledger, res *Result, em *emitter, log *slog.Logger) *campaign {
	l := e.cfg.Limits
	limits := converge.Limits{
		EmptyPasses: l.EmptyPasses,
		PassCap:     l.PassCap,
	}
	if limits.EmptyPasses <= 0 {
		limits.EmptyPasses = defaultEmptyPasses(req.Kind)
	}
	if req.Count > 0 {
		limits.Target = req.Count - res.TotalSuccessful
	}
	if req.Kind == Like {
		limits.AttemptCap = req.Count * l.AttemptMultiplier
		limits.PassCap = limits.AttemptCap
	}
	return &campaign{
		e:      e,
		kind:   req.Kind,
		def:    definition(req.Kind),
		target: target,
		feed: feed.New(feed.Config{
			Doc:      e.cfg.Doc,
			Resolver: e.resolver,
			Settle:   e.cfg.Timing.Settle,
			Logger:   e.cfg.Logger,
		}),
		policy:    converge.New(limits),
		res:       res,
		em:        em,
		log:       log.With("target", target.String()),
		ledger:  lg,
		known:   make(map[identity.ID]struct{}),
		pending: make(map[identity.ID]struct{}),
	}
}

func (c *campaign) run(ctx context.Context) error {
	c.log.Info("sweep: feed started", "limits", fmt.Sprintf("%+v", c.policy.Limits()))
	if c.kind == Like {
		return c.sample(ctx)
	}
	return c.sweep(ctx)
}

// stop reports whether the campaign must end, recording the reason.
func (c *campaign) stop(ctx context.Context) bool {
	if reason, done := c.policy.Done(); done {
		c.res.Reason = reason
		return true
	}
	if ctx.Err() != nil {
		c.res.Reason = Cancelled
		return true
	}
	return false
}

// sweep walks the feed in document order, every pass, until convergence.
// Enumeration restarts inside a pass whenever the list may have shifted.
func (c *campaign) sweep(ctx context.Context) error {
	maxRestarts := c.e.cfg.Limits.MaxRestartsPerPass
	for !c.stop(ctx) {
		c.beginPass(ctx)
		discovered, succeeded := 0, 0

		for restarts := 0; ; restarts++ {
			items, err := c.enumerate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				return err
			}
			discovered += c.discover(ctx, items)

			restart := false
			for _, it := range items {
				if ctx.Err() != nil || !c.policy.CanAttempt() {
					break
				}
				id := c.identify(it)
				if c.processed.Seen(id) {
					continue
				}
				rep, ok := c.attempt(ctx, it, id)
				if !ok {
					break
				}
				if rep.Outcome == workflow.Succeeded {
					succeeded++
				}
				if rep.Outcome == workflow.ItemStale || rep.Outcome == workflow.ConfirmationUncertain || rep.Mutated {
					restart = true
					break
				}
			}
			if !restart || ctx.Err() != nil {
				break
			}
			if restarts+1 >= maxRestarts {
				c.log.Warn("sweep: restart limit reached, ending pass", "pass", c.pass, "restarts", restarts+1)
				break
			}
		}

		c.endPass(ctx, discovered, succeeded)
		if _, done := c.policy.Done(); done || ctx.Err() != nil {
			continue
		}
		if _, err := c.feed.LoadMore(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
	}
	return nil
}

// sample picks one eligible item at random per iteration, acts on it and
// nudges the viewport, until the target or a cap is reached.
func (c *campaign) sample(ctx context.Context) error {
	for !c.stop(ctx) {
		c.beginPass(ctx)
		items, err := c.enumerate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
		discovered := c.discover(ctx, items)

		succeeded := 0
		if eligible := c.eligible(ctx, items); len(eligible) > 0 && c.policy.CanAttempt() {
			it := eligible[c.e.rng.IntN(len(eligible))]
			if rep, ok := c.attempt(ctx, it, c.identify(it)); ok && rep.Outcome == workflow.Succeeded {
				succeeded++
			}
		}
		c.endPass(ctx, discovered, succeeded)

		if _, done := c.policy.Done(); done || ctx.Err() != nil {
			continue
		}
		dy := c.e.cfg.Limits.SampleScroll
		if len(items) == 0 {
			dy *= 2
		}
		if _, err := c.feed.ScrollBy(ctx, dy, c.e.cfg.Timing.ScrollSettle); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return err
		}
	}
	return nil
}

// eligible filters items to unprocessed, non-promoted ones whose primary
// control resolves. Items that go stale while being checked are left out.
func (c *campaign) eligible(ctx context.Context, items []feed.Item) []feed.Item {
	var out []feed.Item
	for _, it := range items {
		if c.processed.Seen(c.identify(it)) {
			continue
		}
		if c.def.SkipPromoted {
			promoted, err := c.e.resolver.Present(ctx, c.e.cfg.Doc, it.Handle, resolve.PromotedMarker)
			if err != nil || promoted {
				continue
			}
		}
		ok, err := c.e.resolver.Present(ctx, c.e.cfg.Doc, it.Handle, c.def.Primary)
		if err != nil || !ok {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (c *campaign) beginPass(ctx context.Context) {
	c.pass++
	c.res.TotalPasses++
	c.log.Debug("sweep: pass started", "pass", c.pass, "policy", c.policy.String())
	c.em.emit(ctx, event.Event{Kind: event.PassStarted, Pass: c.pass})
}

func (c *campaign) endPass(ctx context.Context, discovered, succeeded int) {
	c.policy.EndPass(discovered, succeeded)
	c.log.Info("sweep: pass ended", "pass", c.pass, "discovered", discovered, "succeeded", succeeded,
		"empty_streak", c.policy.EmptyStreak())
	c.em.emit(ctx, event.Event{Kind: event.PassEnded, Pass: c.pass, Discovered: discovered})
}

func (c *campaign) enumerate(ctx context.Context) ([]feed.Item, error) {
	c.enumerations++
	items, err := c.feed.CurrentItems(ctx, c.enumerations)
	if err != nil {
		return nil, fmt.Errorf("sweep: enumerate: %w", err)
	}
	c.reconcile(ctx, items)
	return items, nil
}

func (c *campaign) identify(it feed.Item) identity.ID {
	return identity.Derive(it.Permalink, it.Pass, it.Offset)
}

// discover counts durable identities never enumerated before. Positional
// identities are new on every enumeration and never count.
func (c *campaign) discover(_ context.Context, items []feed.Item) int {
	n := 0
	for _, it := range items {
		id := c.identify(it)
		if id.Kind != identity.Durable {
			continue
		}
		if _, ok := c.known[id]; !ok {
			c.known[id] = struct{}{}
			n++
		}
	}
	return n
}

// reconcile re-checks items whose last outcome was ConfirmationUncertain.
func (c *campaign) reconcile(ctx context.Context, items []feed.Item) {
	if len(c.pending) == 0 {
		return
	}
	present := make(map[identity.ID]struct{}, len(items))
	for _, it := range items {
		present[c.identify(it)] = struct{}{}
	}
	for id := range c.pending {
		delete(c.pending, id)
		if _, ok := present[id]; ok {
			c.log.Warn("sweep: uncertain item still present, retrying", "id", id.Short())
			c.em.emit(ctx, event.Event{Kind: event.ConfirmationUnresolved, Pass: c.pass, Identity: id.String()})
			continue
		}
		c.log.Info("sweep: uncertain item gone", "id", id.Short())
		c.processed.Mark(id)
		c.em.emit(ctx, event.Event{Kind: event.ConfirmationGone, Pass: c.pass, Identity: id.String()})
	}
}

// attempt runs the workflow on one item and applies its outcome. It
// reports false when the rate limiter gave up before the workflow ran.
func (c *campaign) attempt(ctx context.Context, it feed.Item, id identity.ID) (workflow.Report, bool) {
	if c.e.limiter != nil {
		if err := c.e.limiter.Wait(ctx); err != nil {
			c.log.Debug("sweep: rate limiter wait aborted", "id", id.Short(), "error", err)
			return workflow.Report{}, false
		}
	}
	c.policy.Attempt()
	c.res.TotalAttempts++

	rep := c.e.machine.Run(ctx, c.def, it.Handle)

	log := c.log.With("pass", c.pass, "id", id.Short(), "outcome", rep.Outcome)
	switch rep.Outcome {
	case workflow.Succeeded:
		c.policy.Success()
		c.successes++
		c.res.TotalSuccessful++
		c.markProcessed(id)
		log.Info("sweep: item done", "text", it.Text, "engagement", rep.Engagement)
	case workflow.SkippedByPredicate:
		c.res.Skipped++
		c.markProcessed(id)
		log.Info("sweep: item skipped", "detail", rep.Detail)
	case workflow.ControlNotFound:
		c.res.NotFound++
		c.markProcessed(id)
		log.Debug("sweep: control not found", "detail", rep.Detail)
	case workflow.TransientFailure:
		c.res.Failed++
		c.markProcessed(id)
		log.Warn("sweep: item failed", "state", rep.State, "detail", rep.Detail)
	case workflow.ItemStale:
		c.res.Stale++
		log.Debug("sweep: item stale, re-enumerating", "detail", rep.Detail)
	case workflow.ConfirmationUncertain:
		c.res.Uncertain++
		c.uncertain[id]++
		switch {
		case id.Kind != identity.Durable:
			// A positional identity cannot be recognised again.
			c.markProcessed(id)
		case c.uncertain[id] >= 2:
			c.markProcessed(id)
		default:
			c.pending[id] = struct{}{}
		}
		log.Warn("sweep: confirmation uncertain, item state unknown", "detail", rep.Detail, "occurrence", c.uncertain[id])
	}

	ev := event.Event{
		Kind:     event.ItemOutcome,
		Pass:     c.pass,
		Identity: id.String(),
		Outcome:  rep.Outcome.String(),
		State:    rep.State.String(),
		Detail:   rep.Detail,
		Text:     it.Text,
	}
	c.em.emit(ctx, ev)
	if rep.Outcome == workflow.ConfirmationUncertain {
		ev.Kind = event.ConfirmationUncertain
		c.em.emit(ctx, ev)
	}

	if rep.Outcome == workflow.Succeeded {
		c.pause(ctx)
	}
	return rep, true
}

func (c *campaign) markProcessed(id identity.ID) {
	if c.processed.Mark(id) {
		c.res.Processed = append(c.res.Processed, id)
	}
	delete(c.pending, id)
}

// pause waits a random duration in [PauseMin, PauseMax].
func (c *campaign) pause(ctx context.Context) {
	t := c.e.cfg.Timing
	d := t.PauseMin
	if span := t.PauseMax - t.PauseMin; span > 0 {
		d += time.Duration(c.e.rng.Int64N(int64(span)))
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// emitter stamps and forwards events. Sink errors never reach the engine.
type emitter struct {
	runID    string
	campaign string
	sink     sink.Sink
	res      *Result
	seq      int64
	logger   *slog.Logger
}

func (em *emitter) emit(ctx context.Context, ev event.Event) {
	if em.sink == nil {
		return
	}
	em.seq++
	ev.RunID = em.runID
	ev.Seq = em.seq
	ev.Time = time.Now()
	ev.Campaign = em.campaign
	ev.Counters = em.res.Counters()
	if err := em.sink.Send(context.WithoutCancel(ctx), ev); err != nil && !errors.Is(err, sink.ErrClosed) {
		em.logger.Debug("sweep: event not delivered", "kind", ev.Kind, "error", err)
	}
}
