package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

const exportedJSON = `[
  {"name":"auth_token","value":"abc","domain":".x.com","path":"/","secure":true,"httpOnly":true,"expirationDate":1767225600.75,"sameSite":"no_restriction"},
  {"name":"ct0","value":"def","domain":"","expiry":1767225600},
  {"name":"lang","value":"en","domain":".example.org","session":true,"expirationDate":1767225600},
  {"name":"","value":"skipped"}
]`

func TestParse_Normalises(t *testing.T) {
	got, err := Parse([]byte(exportedJSON), ".x.com")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("cookies: got %d, want 3", len(got))
	}
	if got[0].Expires != proto.TimeSinceEpoch(1767225600) || !got[0].Secure || !got[0].HTTPOnly {
		t.Errorf("auth_token: %+v", got[0])
	}
	if got[1].Domain != ".x.com" || got[1].Path != "/" {
		t.Errorf("ct0 defaults: %+v", got[1])
	}
	if got[2].Domain != ".x.com" {
		t.Errorf("foreign domain kept: %q", got[2].Domain)
	}
	if got[2].Expires != 0 {
		t.Errorf("session cookie got expiry %v", got[2].Expires)
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse([]byte(`[]`), ".x.com"); !errors.Is(err, ErrNoCookies) {
		t.Fatalf("err: %v", err)
	}
	if _, err := Parse([]byte(`{`), ".x.com"); err == nil {
		t.Fatal("bad json accepted")
	}
}

type fakePage struct {
	visited  []string
	cookies  []*proto.NetworkCookieParam
	location string
	home     bool
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.visited = append(p.visited, url)
	return nil
}

func (p *fakePage) SetCookies(_ context.Context, c []*proto.NetworkCookieParam) error {
	p.cookies = c
	return nil
}

func (p *fakePage) URL(context.Context) (string, error) {
	if p.location != "" {
		return p.location, nil
	}
	return p.visited[len(p.visited)-1], nil
}

func (p *fakePage) WaitFor(context.Context, string, time.Duration) (bool, error) {
	return p.home, nil
}

func writeCookies(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.json")
	if err := os.WriteFile(path, []byte(exportedJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootstrap_LoggedIn(t *testing.T) {
	page := &fakePage{home: true}
	b := New(Config{CookieFile: writeCookies(t), BaseURL: "https://x.com/"})
	if err := b.Bootstrap(context.Background(), page); err != nil {
		t.Fatal(err)
	}
	if len(page.cookies) != 3 {
		t.Errorf("cookies set: %d", len(page.cookies))
	}
	want := []string{"https://x.com/", "https://x.com/home"}
	if len(page.visited) != 2 || page.visited[0] != want[0] || page.visited[1] != want[1] {
		t.Errorf("visited: %v", page.visited)
	}
}

func TestBootstrap_RedirectedToLogin(t *testing.T) {
	page := &fakePage{home: true, location: "https://x.com/i/flow/login"}
	err := New(Config{CookieFile: writeCookies(t)}).Bootstrap(context.Background(), page)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err: %v", err)
	}
}

func TestBootstrap_HomeNeverRenders(t *testing.T) {
	page := &fakePage{home: false}
	err := New(Config{CookieFile: writeCookies(t), LoginTimeout: time.Millisecond}).Bootstrap(context.Background(), page)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err: %v", err)
	}
}

func TestBootstrap_MissingFile(t *testing.T) {
	err := New(Config{CookieFile: filepath.Join(t.TempDir(), "none.json")}).Bootstrap(context.Background(), &fakePage{})
	if err == nil || errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("err: %v", err)
	}
}
