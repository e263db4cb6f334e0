package sweep

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/feedsweep/sweep/event"
	"github.com/hazyhaar/feedsweep/sweep/internal/config"
	"github.com/hazyhaar/feedsweep/sweep/internal/dom/domtest"
	"github.com/hazyhaar/feedsweep/sweep/internal/navigate"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
	"github.com/hazyhaar/feedsweep/sweep/internal/sink"
)

func newFeed(posts ...domtest.Post) *domtest.Feed {
	return domtest.NewFeed(resolve.DefaultTable().Exprs(), posts...)
}

func fastTiming() config.TimingConfig {
	return config.TimingConfig{
		EffectTimeout:  30 * time.Millisecond,
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   2 * time.Millisecond,
	}
}

// recorder collects events synchronously.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) sink() sink.Sink {
	return sink.NewCallback(func(_ context.Context, ev event.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
		return nil
	})
}

func (r *recorder) count(kind event.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func newEngine(f *domtest.Feed, mod func(*EngineConfig)) *Engine {
	cfg := EngineConfig{
		Doc:    f,
		Timing: fastTiming(),
		RunID:  "test-run",
		Rand:   rand.New(rand.NewPCG(1, 2)),
	}
	if mod != nil {
		mod(&cfg)
	}
	return NewEngine(cfg)
}

func post(i int) string { return fmt.Sprintf("/me/status/%d", i) }

func TestEngine_UnlikeEverything(t *testing.T) {
	var posts []domtest.Post
	for i := 1; i <= 5; i++ {
		posts = append(posts, domtest.Post{Permalink: post(i), Liked: true, Likes: i})
	}
	f := newFeed(posts...)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 5 || res.Reason != Converged {
		t.Fatalf("result: successful=%d reason=%s", res.TotalSuccessful, res.Reason)
	}
	// One productive pass, then five empty ones.
	if res.TotalPasses != 6 {
		t.Errorf("passes: got %d, want 6", res.TotalPasses)
	}
	for i := 1; i <= 5; i++ {
		if f.Post(post(i)).Liked {
			t.Errorf("%s still liked", post(i))
		}
	}
	if n := len(f.Actions("unlike")); n != 5 {
		t.Errorf("unlike actions: got %d, want 5", n)
	}
	if res.RunID != "test-run" {
		t.Errorf("run id: %q", res.RunID)
	}
}

func TestEngine_DeleteZeroEngagement(t *testing.T) {
	f := newFeed(
		domtest.Post{Permalink: post(1)},
		domtest.Post{Permalink: post(2)},
		domtest.Post{Permalink: post(3)},
	)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 3 || res.Reason != Converged {
		t.Fatalf("result: successful=%d reason=%s", res.TotalSuccessful, res.Reason)
	}
	if f.Remaining() != 0 {
		t.Errorf("remaining: %d", f.Remaining())
	}
	if len(res.Processed) != 3 {
		t.Errorf("processed: %v", res.Processed)
	}
	if len(res.Segments) != 1 || res.Segments[0].Target != "profile-tab:Posts" {
		t.Errorf("segments: %+v", res.Segments)
	}
}

func TestEngine_EngagedPostNeverDeleted(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Likes: 2})
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 0 || res.Skipped != 1 {
		t.Fatalf("result: successful=%d skipped=%d", res.TotalSuccessful, res.Skipped)
	}
	if res.TotalAttempts != 1 {
		t.Errorf("attempts: got %d, processed items must not be retried", res.TotalAttempts)
	}
	if f.Remaining() != 1 || len(f.Actions("delete")) != 0 {
		t.Error("engaged post deleted")
	}
}

func TestEngine_MixedEngagement(t *testing.T) {
	f := newFeed(
		domtest.Post{Permalink: post(1)},
		domtest.Post{Permalink: post(2), Replies: 1},
		domtest.Post{Permalink: post(3)},
		domtest.Post{Permalink: post(4), Reposts: 4},
	)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 2 || res.Skipped != 2 {
		t.Fatalf("result: successful=%d skipped=%d", res.TotalSuccessful, res.Skipped)
	}
	if f.Remaining() != 2 {
		t.Errorf("remaining: %d", f.Remaining())
	}
}

func TestEngine_ControlMissingNotRetried(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), NoControls: true})
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.NotFound != 1 || res.TotalAttempts != 1 {
		t.Fatalf("result: not_found=%d attempts=%d", res.NotFound, res.TotalAttempts)
	}
	if len(res.Processed) != 1 {
		t.Errorf("processed: %v", res.Processed)
	}
}

func TestEngine_CountTargetStopsEarly(t *testing.T) {
	var posts []domtest.Post
	for i := 1; i <= 6; i++ {
		posts = append(posts, domtest.Post{Permalink: post(i), Liked: true})
	}
	f := newFeed(posts...)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Unlike, Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 2 || res.Reason != TargetReached {
		t.Fatalf("result: successful=%d reason=%s", res.TotalSuccessful, res.Reason)
	}
	if n := len(f.Actions("unlike")); n != 2 {
		t.Errorf("unlike actions: %d", n)
	}
}

func TestEngine_EmptyFeedConverges(t *testing.T) {
	f := newFeed()
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != Converged || res.TotalPasses != 3 {
		t.Fatalf("result: reason=%s passes=%d", res.Reason, res.TotalPasses)
	}
}

func TestEngine_InfiniteFeedHitsPassCap(t *testing.T) {
	f := newFeed().WithPageSize(3).WithGenerator(func(i int) domtest.Post {
		return domtest.Post{Permalink: post(1000 + i), Likes: 1}
	})
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Limits.PassCap = 4
	}).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != PassCapHit || res.TotalPasses != 4 {
		t.Fatalf("result: reason=%s passes=%d", res.Reason, res.TotalPasses)
	}
	if res.TotalSuccessful != 0 {
		t.Errorf("engaged posts deleted: %d", res.TotalSuccessful)
	}
}

func TestEngine_StaleHandleReEnumerates(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Liked: true, StaleReads: 1})
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stale != 1 || res.TotalSuccessful != 1 {
		t.Fatalf("result: stale=%d successful=%d", res.Stale, res.TotalSuccessful)
	}
}

func TestEngine_UncertainConfirmation(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), ConfirmNeverAppears: true})
	rec := &recorder{}
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Sink = rec.sink()
	}).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	if res.Uncertain != 2 || res.TotalSuccessful != 0 {
		t.Fatalf("result: uncertain=%d successful=%d", res.Uncertain, res.TotalSuccessful)
	}
	if got := rec.count(event.ConfirmationUncertain); got != 2 {
		t.Errorf("uncertain events: %d", got)
	}
	if got := rec.count(event.ConfirmationUnresolved); got != 1 {
		t.Errorf("unresolved events: %d", got)
	}
	if len(res.Processed) != 1 {
		t.Errorf("processed: %v", res.Processed)
	}
	if f.Remaining() != 1 {
		t.Error("post deleted")
	}
}

func TestEngine_EventsAreSequenced(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1)})
	rec := &recorder{}
	_, err := newEngine(f, func(c *EngineConfig) {
		c.Sink = rec.sink()
	}).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) == 0 {
		t.Fatal("no events")
	}
	if first := rec.events[0]; first.Kind != event.CampaignStarted || first.Seq != 1 {
		t.Errorf("first event: %+v", first)
	}
	last := rec.events[len(rec.events)-1]
	if last.Kind != event.CampaignFinished || last.Counters.Successful != 1 {
		t.Errorf("last event: %+v", last)
	}
	for i, ev := range rec.events {
		if ev.Seq != int64(i+1) || ev.RunID != "test-run" || ev.Campaign != "delete" {
			t.Fatalf("event %d: %+v", i, ev)
		}
	}
}

func TestEngine_CancelBeforeStart(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Liked: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newEngine(f, nil).Run(ctx, Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != Cancelled || res.TotalAttempts != 0 {
		t.Fatalf("result: reason=%s attempts=%d", res.Reason, res.TotalAttempts)
	}
}

func TestEngine_CancelFinishesRunningWorkflow(t *testing.T) {
	f := newFeed(
		domtest.Post{Permalink: post(1), Liked: true},
		domtest.Post{Permalink: post(2), Liked: true},
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cb := sink.NewCallback(func(_ context.Context, ev event.Event) error {
		if ev.Kind == event.ItemOutcome {
			cancel()
		}
		return nil
	})
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Sink = cb
	}).Run(ctx, Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != Cancelled || res.TotalSuccessful != 1 {
		t.Fatalf("result: reason=%s successful=%d", res.Reason, res.TotalSuccessful)
	}
	if !f.Post(post(2)).Liked {
		t.Error("second post touched after cancellation")
	}
}

func TestEngine_CancelDuringDeleteKeepsPartialResult(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1)}, domtest.Post{Permalink: post(2)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cb := sink.NewCallback(func(_ context.Context, ev event.Event) error {
		if ev.Kind == event.ItemOutcome {
			cancel()
		}
		return nil
	})
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Sink = cb
	}).Run(ctx, Request{Kind: Delete})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != Cancelled || res.TotalSuccessful != 1 || res.Err != nil {
		t.Fatalf("result: reason=%s successful=%d err=%v", res.Reason, res.TotalSuccessful, res.Err)
	}
	if f.Remaining() != 1 {
		t.Errorf("remaining: %d", f.Remaining())
	}
}

func TestEngine_CancelWhileRateLimited(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Liked: true}, domtest.Post{Permalink: post(2), Liked: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Timing.ActionsPerMinute = 1
	}).Run(ctx, Request{Kind: Unlike})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Reason != Cancelled || res.TotalSuccessful != 1 {
		t.Fatalf("result: reason=%s successful=%d", res.Reason, res.TotalSuccessful)
	}
	if res.Stale != 0 || res.TotalAttempts != 1 {
		t.Errorf("result: stale=%d attempts=%d", res.Stale, res.TotalAttempts)
	}
	if !f.Post(post(2)).Liked {
		t.Error("second post unliked after cancellation")
	}
}

func TestEngine_TabsShareProcessedSet(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Likes: 2})
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete, Tabs: []string{"Posts", "Replies"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Processed) != 1 || res.Skipped != 1 || res.TotalAttempts != 1 {
		t.Fatalf("result: processed=%v skipped=%d attempts=%d", res.Processed, res.Skipped, res.TotalAttempts)
	}
	if n := len(f.Actions("menu")); n != 1 {
		t.Errorf("menu opened %d times", n)
	}
}

func TestEngine_SurvivingPostNotReselected(t *testing.T) {
	// The confirmation closes but post 1 stays at the top of the feed.
	f := newFeed(
		domtest.Post{Permalink: post(1), ConfirmNoop: true},
		domtest.Post{Permalink: post(2)},
	)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Delete})
	if err != nil {
		t.Fatal(err)
	}
	menus := f.Actions("delete-menu")
	if len(menus) != 2 || menus[0] != post(1) || menus[1] != post(2) {
		t.Fatalf("delete-menu actions: %v", menus)
	}
	if len(res.Processed) != 2 || res.Reason != Converged {
		t.Errorf("result: processed=%v reason=%s", res.Processed, res.Reason)
	}
	if f.Remaining() != 1 || len(f.Actions("delete")) != 1 {
		t.Errorf("remaining: %d, deletes: %v", f.Remaining(), f.Actions("delete"))
	}
}

func TestEngine_MultipleTabs(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1)}, domtest.Post{Permalink: post(2)})
	var visited []string
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Navigate = func(_ context.Context, target navigate.Target) error {
			visited = append(visited, target.String())
			return nil
		}
	}).Run(context.Background(), Request{Kind: Delete, Tabs: []string{"Posts", "Replies"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(visited) != 2 || visited[1] != "profile-tab:Replies" {
		t.Fatalf("visited: %v", visited)
	}
	if len(res.Segments) != 2 || res.Segments[0].Successful != 2 || res.Segments[1].Successful != 0 {
		t.Errorf("segments: %+v", res.Segments)
	}
	if res.TotalSuccessful != 2 {
		t.Errorf("total: %d", res.TotalSuccessful)
	}
}

func TestEngine_TargetSpansTabs(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1)}, domtest.Post{Permalink: post(2)})
	var visited []string
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Navigate = func(_ context.Context, target navigate.Target) error {
			visited = append(visited, target.String())
			return nil
		}
	}).Run(context.Background(), Request{Kind: Delete, Count: 1, Tabs: []string{"Posts", "Replies"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 1 || res.Reason != TargetReached {
		t.Fatalf("result: successful=%d reason=%s", res.TotalSuccessful, res.Reason)
	}
	if len(visited) != 1 {
		t.Errorf("visited: %v", visited)
	}
}

func TestEngine_NavigationFailure(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Liked: true})
	boom := errors.New("tab never selected")
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Navigate = func(context.Context, navigate.Target) error { return boom }
	}).Run(context.Background(), Request{Kind: Unlike})
	if !errors.Is(err, ErrNavigation) || !errors.Is(err, boom) {
		t.Fatalf("err: %v", err)
	}
	if res == nil || res.Reason != ReasonError || res.TotalAttempts != 0 {
		t.Fatalf("result: %+v", res)
	}
}

func TestEngine_InvalidRequest(t *testing.T) {
	res, err := newEngine(newFeed(), nil).Run(context.Background(), Request{Kind: Like})
	if !errors.Is(err, ErrInvalidRequest) || res != nil {
		t.Fatalf("got %v, %v", res, err)
	}
}

func TestEngine_SampleReachesTarget(t *testing.T) {
	var posts []domtest.Post
	for i := 1; i <= 8; i++ {
		posts = append(posts, domtest.Post{Permalink: post(i)})
	}
	f := newFeed(posts...).WithPageSize(4)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Like, Count: 3, Query: "golang"})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 3 || res.Reason != TargetReached {
		t.Fatalf("result: successful=%d reason=%s", res.TotalSuccessful, res.Reason)
	}
	if n := len(f.Actions("like")); n != 3 {
		t.Errorf("like actions: %d", n)
	}
}

func TestEngine_SampleSkipsPromoted(t *testing.T) {
	f := newFeed(
		domtest.Post{Permalink: "/ad/status/1", Promoted: true},
		domtest.Post{Permalink: post(2)},
	)
	res, err := newEngine(f, nil).Run(context.Background(), Request{Kind: Like, Count: 1, Query: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 1 || f.Post("/ad/status/1").Liked {
		t.Fatalf("result: successful=%d", res.TotalSuccessful)
	}
}

func TestEngine_SampleAttemptCap(t *testing.T) {
	var posts []domtest.Post
	for i := 1; i <= 10; i++ {
		posts = append(posts, domtest.Post{Permalink: post(i), ToggleNoop: true})
	}
	f := newFeed(posts...)
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Limits.AttemptMultiplier = 3
	}).Run(context.Background(), Request{Kind: Like, Count: 1, Query: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != AttemptCapHit || res.TotalAttempts != 3 {
		t.Fatalf("result: reason=%s attempts=%d", res.Reason, res.TotalAttempts)
	}
	if res.Failed != 3 || res.TotalSuccessful != 0 {
		t.Errorf("result: failed=%d successful=%d", res.Failed, res.TotalSuccessful)
	}
}

func TestEngine_RateLimited(t *testing.T) {
	f := newFeed(domtest.Post{Permalink: post(1), Liked: true}, domtest.Post{Permalink: post(2), Liked: true})
	res, err := newEngine(f, func(c *EngineConfig) {
		c.Timing.ActionsPerMinute = 6000
	}).Run(context.Background(), Request{Kind: Unlike})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalSuccessful != 2 {
		t.Fatalf("successful: %d", res.TotalSuccessful)
	}
}
