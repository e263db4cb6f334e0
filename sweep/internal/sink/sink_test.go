package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/feedsweep/dbopen"
	"github.com/hazyhaar/feedsweep/sweep/event"
)

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	closed bool
}

func (r *recorder) Send(_ context.Context, ev event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// blocking holds every delivery until release is closed.
type blocking struct {
	release chan struct{}
	n       atomic.Int64
}

func (b *blocking) Send(context.Context, event.Event) error {
	<-b.release
	b.n.Add(1)
	return nil
}

func (b *blocking) Close() error { return nil }

func TestRouter_DeliversToAllSinksAndDrainsOnClose(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	r := NewRouter(nil, 16, a, b)
	for i := 0; i < 10; i++ {
		if err := r.Send(context.Background(), event.Event{Seq: int64(i), Kind: event.ItemOutcome}); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if a.len() != 10 || b.len() != 10 {
		t.Fatalf("delivered: %d / %d, want 10 / 10", a.len(), b.len())
	}
	if !a.closed || !b.closed {
		t.Error("sinks not closed")
	}
	for i, ev := range a.events {
		if ev.Seq != int64(i) {
			t.Fatalf("order: event %d has seq %d", i, ev.Seq)
		}
	}
	if err := r.Send(context.Background(), event.Event{}); err != ErrClosed {
		t.Errorf("Send after Close: got %v, want ErrClosed", err)
	}
}

func TestRouter_DropsWhenFullWithoutBlocking(t *testing.T) {
	slow := &blocking{release: make(chan struct{})}
	r := NewRouter(nil, 2, slow)

	start := time.Now()
	for i := 0; i < 50; i++ {
		_ = r.Send(context.Background(), event.Event{Seq: int64(i)})
	}
	if time.Since(start) > time.Second {
		t.Fatal("Send blocked on a slow sink")
	}
	if r.Dropped() == 0 {
		t.Fatal("expected drops")
	}
	close(slow.release)
	r.Close()
	if got := slow.n.Load() + r.Dropped(); got != 50 {
		t.Errorf("delivered + dropped = %d, want 50", got)
	}
}

func TestStdout_Envelope(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Send(context.Background(), event.Event{RunID: "r1", Kind: event.PassEnded, Pass: 2}); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Type string      `json:"type"`
		Data event.Event `json:"data"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if got.Type != "event" || got.Data.Kind != event.PassEnded || got.Data.Pass != 2 {
		t.Errorf("line: %s", buf.String())
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("not newline terminated")
	}
}

func TestCallback(t *testing.T) {
	var got event.Kind
	c := NewCallback(func(_ context.Context, ev event.Event) error {
		got = ev.Kind
		return nil
	})
	c.Send(context.Background(), event.Event{Kind: event.CampaignStarted})
	if got != event.CampaignStarted {
		t.Errorf("got %q", got)
	}
	if err := NewCallback(nil).Send(context.Background(), event.Event{}); err != nil {
		t.Errorf("nil callback: %v", err)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), event.Event{Kind: event.CampaignFinished}); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: %d, want 3", calls.Load())
	}
}

func TestWebhook_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), event.Event{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestJournal_RoundTripAndPrune(t *testing.T) {
	ctx := context.Background()
	j, err := NewJournal(ctx, dbopen.OpenMemory(t))
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	evs := []event.Event{
		{RunID: "r1", Seq: 1, Kind: event.CampaignStarted, Campaign: "delete", Time: old},
		{RunID: "r1", Seq: 2, Kind: event.ItemOutcome, Identity: "/me/status/1", Outcome: "succeeded",
			Counters: event.Counters{Successful: 1, Attempts: 1}, Time: time.Now()},
		{RunID: "r2", Seq: 1, Kind: event.CampaignStarted, Time: time.Now()},
	}
	for _, ev := range evs {
		if err := j.Send(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.Events(ctx, "r1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Identity != "/me/status/1" || got[1].Counters.Successful != 1 {
		t.Fatalf("events: %+v", got)
	}

	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Prune: (%d, %v), want 1 row", n, err)
	}
	got, _ = j.Events(ctx, "r1", 0)
	if len(got) != 1 || got[0].Seq != 2 {
		t.Errorf("after prune: %+v", got)
	}
}
