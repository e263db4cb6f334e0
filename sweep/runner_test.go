package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/dom/domtest"
	"github.com/hazyhaar/feedsweep/sweep/internal/navigate"
)

type fakePage struct {
	feed    *domtest.Feed
	mu      sync.Mutex
	visited []string
	closed  bool
}

func (p *fakePage) Document() Document { return p.feed }

func (p *fakePage) NavigateToFeed(_ context.Context, target navigate.Target) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, target.String())
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBackend struct {
	page *fakePage
	err  error
	// gate, when set, blocks Open until closed or ctx ends.
	gate chan struct{}
}

func (b *fakeBackend) Open(ctx context.Context) (Page, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.page, nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Timing = fastTiming()
	return cfg
}

func newRunner(t *testing.T, b Backend) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerConfig{Config: testConfig(), Backend: b})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	return r
}

func waitIdle(t *testing.T, r *Runner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, busy := r.Active(); !busy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("runner still busy")
}

func TestRunner_RunDeletesAndReportsStatus(t *testing.T) {
	page := &fakePage{feed: newFeed(domtest.Post{Permalink: post(1)}, domtest.Post{Permalink: post(2), Likes: 1})}
	r := newRunner(t, &fakeBackend{page: page})

	res, err := r.Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 1 || res.Skipped != 1 {
		t.Fatalf("result: %+v", res)
	}
	if !strings.HasPrefix(res.RunID, "run_") {
		t.Errorf("run id: %q", res.RunID)
	}
	if !page.closed {
		t.Error("page not closed")
	}
	if len(page.visited) != 1 || page.visited[0] != "profile-tab:Posts" {
		t.Errorf("visited: %v", page.visited)
	}

	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	st, ok := r.Status(res.RunID)
	if !ok {
		t.Fatal("status not found")
	}
	if st.Running || st.Result == nil || st.Counters.Successful != 1 {
		t.Errorf("status: %+v", st)
	}
	if n := len(st.Events); n == 0 || st.Events[n-1].Kind != event.CampaignFinished {
		t.Errorf("events: %d", n)
	}
}

func TestRunner_Busy(t *testing.T) {
	gate := make(chan struct{})
	page := &fakePage{feed: newFeed(domtest.Post{Permalink: post(1), Liked: true})}
	r := newRunner(t, &fakeBackend{page: page, gate: gate})
	defer r.Close()

	id, err := r.Start(Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), Request{Kind: Unlike}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Run while busy: %v", err)
	}
	if _, err := r.Start(Request{Kind: Delete}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Start while busy: %v", err)
	}
	if st, ok := r.Status(id); !ok || !st.Running {
		t.Errorf("status: %+v", st)
	}

	close(gate)
	waitIdle(t, r)
	st, _ := r.Status(id)
	if st.Result == nil || st.Result.TotalSuccessful != 1 {
		t.Errorf("result: %+v", st.Result)
	}
}

func TestRunner_AuthenticationFailure(t *testing.T) {
	boom := fmt.Errorf("%w: %w", ErrAuthentication, errors.New("redirected to login"))
	r := newRunner(t, &fakeBackend{err: boom})
	defer r.Close()

	res, err := r.Run(context.Background(), Request{Kind: Unlike})
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("err: %v", err)
	}
	if res == nil || res.Reason != ReasonError || res.Error == "" {
		t.Fatalf("result: %+v", res)
	}
	if _, busy := r.Active(); busy {
		t.Error("runner still busy after failure")
	}
}

func TestRunner_Cancel(t *testing.T) {
	gate := make(chan struct{})
	r := newRunner(t, &fakeBackend{page: &fakePage{feed: newFeed()}, gate: gate})
	defer r.Close()

	id, err := r.Start(Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if !r.Cancel(id) {
		t.Fatal("cancel: run not found")
	}
	waitIdle(t, r)
	if r.Cancel(id) {
		t.Error("finished run cancelled twice")
	}
	st, _ := r.Status(id)
	if st.Result == nil || !errors.Is(st.Result.Err, context.Canceled) {
		t.Errorf("result: %+v", st.Result)
	}
}

func TestRunner_InvalidAndClosed(t *testing.T) {
	r := newRunner(t, &fakeBackend{page: &fakePage{feed: newFeed()}})
	if _, err := r.Start(Request{Kind: "boost"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("invalid kind: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Start(Request{Kind: Unlike}); !errors.Is(err, ErrClosed) {
		t.Errorf("after close: %v", err)
	}
}
