// CLAUDE:SUMMARY Runner: owns the browser and the sink router, serialises campaigns (ErrBusy), runs them sync or async and keeps status with recent events.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/feedsweep/idgen"
	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/browser"
	"github.com/hazyhaar/feedsweep/sweep/internal/navigate"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
	"github.com/hazyhaar/feedsweep/sweep/internal/session"
	"github.com/hazyhaar/feedsweep/sweep/internal/sink"
)

const (
	// RecentEvents is the number of events kept per run for status queries.
	RecentEvents = 50
	// KeptRuns is the number of finished runs kept for status queries.
	KeptRuns = 16
)

// ErrClosed is returned when a campaign is requested after Close.
var ErrClosed = errors.New("sweep: runner closed")

// newRunID generates run identifiers.
var newRunID = idgen.Prefixed("run_", idgen.Default)

// Page is an authenticated tab a campaign runs in.
type Page interface {
	Document() Document
	NavigateToFeed(ctx context.Context, target navigate.Target) error
	Close() error
}

// Backend opens pages. Open failures caused by the session wrap
// ErrAuthentication.
type Backend interface {
	Open(ctx context.Context) (Page, error)
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Config *Config
	// Backend defaults to a browser backend built from Config.
	Backend Backend
	// Sinks receive every event of every run, through one async router.
	Sinks  []Sink
	Logger *slog.Logger
}

// Status is the state of one run.
type Status struct {
	RunID    string         `json:"run_id"`
	Request  Request        `json:"request"`
	Running  bool           `json:"running"`
	Counters event.Counters `json:"counters"`
	Result   *Result        `json:"result,omitempty"`
	Events   []Event        `json:"events,omitempty"`
}

type runState struct {
	status Status
	cancel context.CancelFunc
}

// Runner executes campaigns one at a time against a Backend.
type Runner struct {
	cfg     *Config
	backend Backend
	table   resolve.Table
	router  *sink.Router
	logger  *slog.Logger

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	active string
	runs   map[string]*runState
	order  []string
}

// NewRunner creates a Runner. The selector table is validated here.
func NewRunner(rc RunnerConfig) (*Runner, error) {
	if rc.Logger == nil {
		rc.Logger = slog.Default()
	}
	if rc.Config == nil {
		rc.Config = DefaultConfig()
	}
	table, err := rc.Config.Table()
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	if rc.Backend == nil {
		b, err := NewBrowserBackend(rc.Config, rc.Logger)
		if err != nil {
			return nil, err
		}
		rc.Backend = b
	}
	r := &Runner{
		cfg:     rc.Config,
		backend: rc.Backend,
		table:   table,
		logger:  rc.Logger,
		runs:    make(map[string]*runState),
	}
	r.base, r.shutdown = context.WithCancel(context.Background())
	sinks := append([]Sink{sink.NewCallback(r.record)}, rc.Sinks...)
	r.router = sink.NewRouter(rc.Logger, sink.DefaultBuffer, sinks...)
	return r, nil
}

// Run executes req and blocks until it finishes. It returns ErrBusy when
// another campaign is running.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runID, err := r.acquire(req, cancel)
	if err != nil {
		return nil, err
	}
	defer r.wg.Done()
	return r.execute(ctx, runID, req)
}

// Start launches req in the background and returns its run id.
func (r *Runner) Start(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(r.base)
	runID, err := r.acquire(req, cancel)
	if err != nil {
		cancel()
		return "", err
	}
	go func() {
		defer r.wg.Done()
		defer cancel()
		if _, err := r.execute(ctx, runID, req); err != nil {
			r.logger.Error("sweep: campaign failed", "run", runID, "error", err)
		}
	}()
	return runID, nil
}

// Cancel stops a running campaign after its current workflow. It reports
// whether runID was running.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok || !st.status.Running {
		return false
	}
	st.cancel()
	return true
}

// Active returns the id of the running campaign, if any.
func (r *Runner) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != ""
}

// Status returns a snapshot of a run. Events are delivered asynchronously
// and may lag the counters.
func (r *Runner) Status(runID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[runID]
	if !ok {
		return Status{}, false
	}
	s := st.status
	s.Events = append([]Event(nil), st.status.Events...)
	return s, true
}

// Close cancels the running campaign, waits for it, flushes the sinks and
// releases the backend.
func (r *Runner) Close() error {
	r.shutdown()
	r.mu.Lock()
	for _, st := range r.runs {
		if st.status.Running {
			st.cancel()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()

	var errs []error
	if err := r.router.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := r.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) acquire(req Request, cancel context.CancelFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return "", fmt.Errorf("%w: %s", ErrBusy, r.active)
	}
	if r.base.Err() != nil {
		return "", ErrClosed
	}
	r.wg.Add(1)
	runID := newRunID()
	r.active = runID
	r.runs[runID] = &runState{
		status: Status{RunID: runID, Request: req, Running: true},
		cancel: cancel,
	}
	r.order = append(r.order, runID)
	for len(r.order) > KeptRuns {
		old := r.order[0]
		if old == r.active {
			break
		}
		delete(r.runs, old)
		r.order = r.order[1:]
	}
	return runID, nil
}

func (r *Runner) release(runID string, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == runID {
		r.active = ""
	}
	if st, ok := r.runs[runID]; ok {
		st.status.Running = false
		st.status.Result = res
		if res != nil {
			st.status.Counters = res.Counters()
		}
	}
}

func (r *Runner) execute(ctx context.Context, runID string, req Request) (res *Result, err error) {
	log := r.logger.With("run", runID)
	defer func() { r.release(runID, res) }()

	started := time.Now()
	page, err := r.backend.Open(ctx)
	if err != nil {
		res = &Result{RunID: runID, Kind: req.Kind, StartedAt: started, FinishedAt: time.Now()}
		res.fail(err)
		log.Error("sweep: open page", "error", err)
		return res, err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			log.Debug("sweep: close page", "error", cerr)
		}
	}()

	engine := NewEngine(EngineConfig{
		Doc:      page.Document(),
		Navigate: page.NavigateToFeed,
		Table:    r.table,
		Timing:   r.cfg.Timing,
		Limits:   r.cfg.Limits,
		Sink:     r.router,
		RunID:    runID,
		Logger:   r.logger,
	})
	return engine.Run(ctx, req)
}

// record keeps recent events per run. It runs on the router goroutine.
func (r *Runner) record(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[ev.RunID]
	if !ok {
		return nil
	}
	if st.status.Running {
		st.status.Counters = ev.Counters
	}
	st.status.Events = append(st.status.Events, ev)
	if n := len(st.status.Events); n > RecentEvents {
		st.status.Events = append([]Event(nil), st.status.Events[n-RecentEvents:]...)
	}
	return nil
}

// BrowserBackend opens stealth Chrome tabs with the configured session.
type BrowserBackend struct {
	mgr     *browser.Manager
	session *session.Bootstrapper
	nav     *navigate.Provider
	logger  *slog.Logger
}

// NewBrowserBackend creates a BrowserBackend. Chrome starts on first Open.
func NewBrowserBackend(cfg *Config, logger *slog.Logger) (*BrowserBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := browser.ParseMode(cfg.Browser.Stealth)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	return &BrowserBackend{
		mgr: browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			Bin:              cfg.Browser.Bin,
			Mode:             mode,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			WindowWidth:      cfg.Browser.WindowWidth,
			WindowHeight:     cfg.Browser.WindowHeight,
			Logger:           logger,
		}),
		session: session.New(session.Config{
			CookieFile:   cfg.Session.CookieFile,
			BaseURL:      cfg.Session.BaseURL,
			Domain:       cfg.Session.Domain,
			LoginTimeout: cfg.Session.LoginTimeout,
			Logger:       logger,
		}),
		nav: navigate.New(navigate.Config{
			BaseURL:   cfg.Session.BaseURL,
			SinceDays: cfg.Limits.SinceDays,
			Settle:    cfg.Timing.Settle,
			Logger:    logger,
		}),
		logger: logger,
	}, nil
}

// Open opens a tab and restores the session in it.
func (b *BrowserBackend) Open(ctx context.Context) (Page, error) {
	tab, err := browser.OpenTab(ctx, b.mgr)
	if err != nil {
		return nil, fmt.Errorf("sweep: open tab: %w", err)
	}
	if err := b.session.Bootstrap(ctx, tab); err != nil {
		tab.Close()
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return &browserPage{tab: tab, nav: b.nav}, nil
}

// Close shuts Chrome down.
func (b *BrowserBackend) Close() error {
	return b.mgr.Close()
}

type browserPage struct {
	tab *browser.Tab
	nav *navigate.Provider
}

func (p *browserPage) Document() Document { return p.tab.Document() }

func (p *browserPage) NavigateToFeed(ctx context.Context, target navigate.Target) error {
	return p.nav.NavigateToFeed(ctx, p.tab, target)
}

func (p *browserPage) Close() error { return p.tab.Close() }
