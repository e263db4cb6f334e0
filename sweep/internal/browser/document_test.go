package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
)

func TestMapErr(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		stale bool
	}{
		{"nil", nil, false},
		{"ctx not found", cdp.ErrCtxNotFound, true},
		{"rod object not found", fmt.Errorf("element: %w", &rod.ObjectNotFoundError{RuntimeRemoteObject: &proto.RuntimeRemoteObject{}}), true},
		{"wrapped obj not found", errors.Join(errors.New("eval"), cdp.ErrObjNotFound), true},
		{"detached message", errors.New("{-32000 Node is detached from document}"), true},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, c := range cases {
		got := mapErr(c.err)
		if stale := dom.IsStale(got); stale != c.stale {
			t.Errorf("%s: stale = %v, want %v (%v)", c.name, stale, c.stale, got)
		}
		if c.err != nil && !errors.Is(got, c.err) && !c.stale {
			t.Errorf("%s: original error lost", c.name)
		}
	}
}

func TestShouldBlock(t *testing.T) {
	set := map[string]bool{"images": true, "fonts": true}
	if !shouldBlock(set, "Image") || !shouldBlock(set, "Font") {
		t.Error("configured types not blocked")
	}
	if shouldBlock(set, "Script") || shouldBlock(set, "Document") {
		t.Error("unconfigured types blocked")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("headful"); err != nil || m != Headful {
		t.Errorf("headful: %v %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != Headless {
		t.Errorf("default: %v %v", m, err)
	}
	if _, err := ParseMode("kiosk"); err == nil {
		t.Error("unknown mode accepted")
	}
}
