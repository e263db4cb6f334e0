package converge

import "testing"

func TestPolicy_ConvergesAfterKEmptyPasses(t *testing.T) {
	p := New(Limits{EmptyPasses: 3})
	for i := 0; i < 2; i++ {
		p.EndPass(0, 0)
		if _, done := p.Done(); done {
			t.Fatalf("stopped after %d empty passes, want 3", i+1)
		}
	}
	p.EndPass(0, 0)
	reason, done := p.Done()
	if !done || reason != Converged {
		t.Fatalf("Done: got (%q, %v), want (converged, true)", reason, done)
	}
}

func TestPolicy_ProductivePassResetsStreak(t *testing.T) {
	p := New(Limits{EmptyPasses: 2})
	p.EndPass(0, 0)
	p.EndPass(4, 0) // new items
	p.EndPass(0, 0)
	if _, done := p.Done(); done {
		t.Fatal("discovery must reset the empty streak")
	}
	p.EndPass(0, 1) // success only
	p.EndPass(0, 0)
	if _, done := p.Done(); done {
		t.Fatal("success must reset the empty streak")
	}
	if p.EmptyStreak() != 1 {
		t.Errorf("EmptyStreak: got %d, want 1", p.EmptyStreak())
	}
}

func TestPolicy_TargetWinsOverOtherReasons(t *testing.T) {
	p := New(Limits{Target: 2, AttemptCap: 2})
	p.Attempt()
	p.Success()
	p.Attempt()
	p.Success()
	reason, done := p.Done()
	if !done || reason != TargetReached {
		t.Fatalf("Done: got (%q, %v), want target_reached", reason, done)
	}
	if p.CanAttempt() {
		t.Error("CanAttempt after target reached")
	}
}

func TestPolicy_AttemptCap(t *testing.T) {
	p := New(Limits{Target: 10, AttemptCap: 3})
	for i := 0; i < 3; i++ {
		if !p.CanAttempt() {
			t.Fatalf("CanAttempt false at attempt %d", i)
		}
		p.Attempt()
	}
	if p.CanAttempt() {
		t.Fatal("CanAttempt true at cap")
	}
	reason, done := p.Done()
	if !done || reason != AttemptCapHit {
		t.Fatalf("Done: got (%q, %v), want attempt_cap_hit", reason, done)
	}
}

func TestPolicy_PassCapAlwaysTerminates(t *testing.T) {
	p := New(Limits{}) // defaults only
	if got := p.Limits(); got.PassCap != DefaultPassCap || got.EmptyPasses != DefaultEmptyPasses {
		t.Fatalf("defaults: got %+v", got)
	}
	n := 0
	for {
		if _, done := p.Done(); done {
			break
		}
		p.EndPass(1, 0) // always discovers something, never succeeds
		n++
		if n > 10*DefaultPassCap {
			t.Fatal("policy never stopped")
		}
	}
	reason, _ := p.Done()
	if reason != PassCapHit {
		t.Fatalf("reason: got %q, want pass_cap_hit", reason)
	}
	if n != DefaultPassCap {
		t.Errorf("passes: got %d, want %d", n, DefaultPassCap)
	}
}
