package feed

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom/domtest"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
)

func newController(f *domtest.Feed) *Controller {
	return New(Config{Doc: f, Resolver: resolve.New(nil, nil)})
}

func posts(n int) []domtest.Post {
	out := make([]domtest.Post, n)
	for i := range out {
		out[i] = domtest.Post{Permalink: "/u/status/" + strings.Repeat("1", i+1), Text: "post\n\nbody"}
	}
	return out
}

func TestCurrentItems_FreshHandlesWithPermalinks(t *testing.T) {
	f := domtest.NewFeed(resolve.DefaultTable().Exprs(), posts(3)...)
	c := newController(f)
	items, err := c.CurrentItems(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items: got %d, want 3", len(items))
	}
	for i, it := range items {
		if it.Pass != 4 || it.Offset != i {
			t.Errorf("item %d: pass/offset %d/%d", i, it.Pass, it.Offset)
		}
		if it.Permalink == "" {
			t.Errorf("item %d: no permalink", i)
		}
		if it.Text != "post body" {
			t.Errorf("item %d: text %q", i, it.Text)
		}
	}
}

func TestCurrentItems_StaleItemKeptWithoutPermalink(t *testing.T) {
	p := posts(2)
	p[0].StaleReads = 1
	f := domtest.NewFeed(resolve.DefaultTable().Exprs(), p...)
	items, err := newController(f).CurrentItems(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].Permalink != "" || items[1].Permalink == "" {
		t.Fatalf("items: %+v", items)
	}
}

func TestLoadMore_GrowsUntilExhausted(t *testing.T) {
	f := domtest.NewFeed(resolve.DefaultTable().Exprs(), posts(5)...).WithPageSize(2)
	c := newController(f)
	ctx := context.Background()
	if _, err := c.CurrentItems(ctx, 0); err != nil {
		t.Fatal(err)
	}
	grew := 0
	for i := 0; i < 5; i++ {
		ok, err := c.LoadMore(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			grew++
		}
	}
	if grew != 2 {
		t.Errorf("grew %d times, want 2 (2 → 4 → 5)", grew)
	}
	items, _ := c.CurrentItems(ctx, 1)
	if len(items) != 5 {
		t.Errorf("items: got %d, want 5", len(items))
	}
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", PreviewLen+5)
	got := Preview(long)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) != PreviewLen+1 {
		t.Errorf("Preview: %q", got)
	}
	if Preview("a\n b\t c") != "a b c" {
		t.Errorf("Preview whitespace: %q", Preview("a\n b\t c"))
	}
}
