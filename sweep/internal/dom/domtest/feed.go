// CLAUDE:SUMMARY Scripted in-memory infinite feed implementing dom.Document for browser-free engine tests.
// Package domtest provides an in-memory feed that behaves like the remote
// timeline closely enough to exercise the sweep engine: posts are revealed
// page by page on scroll, controls toggle, the overflow menu opens a delete
// item, the confirmation sheet removes the post, and every scroll or
// deletion invalidates previously returned handles.
//
// Queries are matched by expression string: the feed is built from a
// role → expressions map (resolve.Table.Exprs) and answers a query with the
// nodes playing the role that owns the expression.
package domtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
)

// Role names understood by the feed. They mirror resolve.Role values.
const (
	RoleItem      = "feed-item"
	RoleLike      = "like-control"
	RoleUnlike    = "unlike-control"
	RoleCaret     = "overflow-menu-control"
	RoleDelete    = "menu-item:delete"
	RoleConfirm   = "confirm-button"
	RolePermalink = "permalink"
	RolePromoted  = "promoted-marker"
	RoleReplies   = "reply-count"
	RoleReposts   = "repost-count"
	RoleLikes     = "like-count"
)

var (
	// ErrClick is returned by scripted click failures.
	ErrClick = errors.New("domtest: click intercepted")
	// ErrRead is returned by scripted counter read failures.
	ErrRead = errors.New("domtest: text unreadable")
)

// Post is one scripted feed entry and its misbehaviours.
type Post struct {
	Permalink string
	Text      string
	Replies   int
	Reposts   int
	Likes     int
	Liked     bool
	Promoted  bool

	// NoControls removes the like, unlike and overflow controls.
	NoControls bool
	// HiddenControls keeps the controls in the DOM but invisible.
	HiddenControls bool
	// ToggleNoop makes like and unlike clicks do nothing.
	ToggleNoop bool
	// MenuNeverOpens makes overflow clicks do nothing.
	MenuNeverOpens bool
	// NoDeleteItem opens a menu without a delete entry.
	NoDeleteItem bool
	// ConfirmNeverAppears makes the delete entry do nothing visible.
	ConfirmNeverAppears bool
	// ConfirmNoop closes the sheet without removing the post.
	ConfirmNoop bool
	// ScriptClickErrors and PointerClickErrors fail that many clicks on
	// the post's controls.
	ScriptClickErrors  int
	PointerClickErrors int
	// StaleReads hands out that many already-stale item handles.
	StaleReads int
	// CountReadErrors fails that many reads of the engagement counters.
	CountReadErrors int

	deleted   bool
	toggleGen int
}

// Action is one effect the feed observed.
type Action struct {
	Kind      string // like | unlike | menu | delete-menu | delete | dismiss | scroll
	Permalink string
}

// Feed implements dom.Document.
type Feed struct {
	mu       sync.Mutex
	roles    map[string]string // expr → role
	posts    []*Post
	revealed int
	pageSize int
	gen      int
	generate func(i int) Post

	menuFor  *Post
	menuSeq  int
	sheetFor *Post
	sheetSeq int

	actions []Action
}

// NewFeed creates a feed. exprs maps role names to the expressions that
// select them; posts are revealed pageSize at a time (default 10).
func NewFeed(exprs map[string][]string, posts ...Post) *Feed {
	f := &Feed{roles: make(map[string]string), pageSize: 10}
	for role, list := range exprs {
		for _, e := range list {
			if _, dup := f.roles[e]; !dup {
				f.roles[e] = role
			}
		}
	}
	for i := range posts {
		p := posts[i]
		f.posts = append(f.posts, &p)
	}
	f.revealed = min(f.pageSize, len(f.posts))
	return f
}

// WithPageSize sets how many posts each scroll reveals.
func (f *Feed) WithPageSize(n int) *Feed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSize = n
	f.revealed = min(n, len(f.posts))
	return f
}

// WithGenerator makes the feed infinite: once the scripted posts are
// exhausted, each scroll appends pageSize generated posts.
func (f *Feed) WithGenerator(gen func(i int) Post) *Feed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generate = gen
	if f.revealed == 0 {
		f.extendLocked()
	}
	return f
}

// Post returns the scripted post with the given permalink.
func (f *Feed) Post(permalink string) *Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.Permalink == permalink {
			return p
		}
	}
	return nil
}

// Actions returns the permalinks of every action of the given kind.
func (f *Feed) Actions(kind string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.actions {
		if a.Kind == kind {
			out = append(out, a.Permalink)
		}
	}
	return out
}

// Overlay reports whether a menu or confirmation sheet is open.
func (f *Feed) Overlay() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.menuFor != nil || f.sheetFor != nil
}

// Remaining returns the number of posts not deleted.
func (f *Feed) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.posts {
		if !p.deleted {
			n++
		}
	}
	return n
}

func (f *Feed) extendLocked() {
	if f.generate != nil && f.revealed >= len(f.posts) {
		for i := 0; i < f.pageSize; i++ {
			p := f.generate(len(f.posts))
			f.posts = append(f.posts, &p)
		}
	}
	f.revealed = min(f.revealed+f.pageSize, len(f.posts))
}

func (f *Feed) record(kind string, p *Post) {
	a := Action{Kind: kind}
	if p != nil {
		a.Permalink = p.Permalink
	}
	f.actions = append(f.actions, a)
}

// --- dom.Document ---

func (f *Feed) Query(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.roles[q.Expr] {
	case RoleItem:
		var out []dom.Element
		for _, p := range f.posts[:f.revealed] {
			if p.deleted {
				continue
			}
			n := &node{feed: f, post: p, role: RoleItem, gen: f.gen}
			if p.StaleReads > 0 {
				p.StaleReads--
				n.stale = true
			}
			out = append(out, n)
		}
		return out, nil
	case RoleDelete:
		if f.menuFor != nil && !f.menuFor.NoDeleteItem {
			return []dom.Element{&node{feed: f, post: f.menuFor, role: RoleDelete, gen: f.gen, seq: f.menuSeq}}, nil
		}
	case RoleConfirm:
		if f.sheetFor != nil {
			return []dom.Element{&node{feed: f, post: f.sheetFor, role: RoleConfirm, gen: f.gen, seq: f.sheetSeq}}, nil
		}
	}
	return nil, nil
}

func (f *Feed) ScrollToBottom(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extendLocked()
	f.gen++
	f.record("scroll", nil)
	return nil
}

func (f *Feed) ScrollBy(ctx context.Context, dy int) error {
	if dy <= 0 {
		return nil
	}
	return f.ScrollToBottom(ctx)
}

func (f *Feed) Height(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revealed * 600, nil
}

func (f *Feed) ClickOutside(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("dismiss", nil)
	f.menuFor, f.sheetFor = nil, nil
	return nil
}

// --- dom.Element ---

type node struct {
	feed      *Feed
	post      *Post
	role      string
	gen       int
	seq       int
	toggleGen int
	stale     bool
}

func (n *node) checkLocked() error {
	f := n.feed
	switch {
	case n.stale, n.post.deleted:
		return dom.ErrStale
	case n.role == RoleDelete:
		if f.menuFor != n.post || f.menuSeq != n.seq {
			return dom.ErrStale
		}
	case n.role == RoleConfirm:
		if f.sheetFor != n.post || f.sheetSeq != n.seq {
			return dom.ErrStale
		}
	case n.gen != f.gen:
		return dom.ErrStale
	case (n.role == RoleLike || n.role == RoleUnlike) && n.toggleGen != n.post.toggleGen:
		return dom.ErrStale
	}
	return nil
}

func (n *node) Query(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	f := n.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := n.checkLocked(); err != nil {
		return nil, err
	}
	if n.role != RoleItem {
		return nil, nil
	}
	p := n.post
	role := f.roles[q.Expr]
	child := func() []dom.Element {
		return []dom.Element{&node{feed: f, post: p, role: role, gen: f.gen, toggleGen: p.toggleGen}}
	}
	switch role {
	case RoleLike:
		if !p.NoControls && !p.Liked {
			return child(), nil
		}
	case RoleUnlike:
		if !p.NoControls && p.Liked {
			return child(), nil
		}
	case RoleCaret:
		if !p.NoControls {
			return child(), nil
		}
	case RolePermalink:
		if p.Permalink != "" {
			return child(), nil
		}
	case RolePromoted:
		if p.Promoted {
			return child(), nil
		}
	case RoleReplies, RoleReposts, RoleLikes:
		return child(), nil
	}
	return nil, nil
}

func (n *node) Visible(context.Context) (bool, error) {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	if err := n.checkLocked(); err != nil {
		return false, err
	}
	switch n.role {
	case RoleLike, RoleUnlike, RoleCaret:
		return !n.post.HiddenControls, nil
	}
	return true, nil
}

func (n *node) Enabled(context.Context) (bool, error) {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	return true, n.checkLocked()
}

func (n *node) Text(context.Context) (string, error) {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	if err := n.checkLocked(); err != nil {
		return "", err
	}
	switch n.role {
	case RoleReplies, RoleReposts, RoleLikes:
		if n.post.CountReadErrors > 0 {
			n.post.CountReadErrors--
			return "", ErrRead
		}
	}
	switch n.role {
	case RoleItem:
		return n.post.Text, nil
	case RoleReplies:
		return countText(n.post.Replies), nil
	case RoleReposts:
		return countText(n.post.Reposts), nil
	case RoleLikes:
		return countText(n.post.Likes), nil
	}
	return "", nil
}

// countText renders counts the way the timeline does: blank for zero.
func countText(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

func (n *node) Attribute(_ context.Context, name string) (string, bool, error) {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	if err := n.checkLocked(); err != nil {
		return "", false, err
	}
	if n.role == RolePermalink && name == "href" {
		return n.post.Permalink, true, nil
	}
	return "", false, nil
}

func (n *node) ScrollIntoView(context.Context) error {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	return n.checkLocked()
}

func (n *node) Hover(context.Context) error {
	n.feed.mu.Lock()
	defer n.feed.mu.Unlock()
	return n.checkLocked()
}

func (n *node) ScriptClick(context.Context) error {
	return n.click(&n.post.ScriptClickErrors)
}

func (n *node) PointerClick(context.Context) error {
	return n.click(&n.post.PointerClickErrors)
}

func (n *node) click(failures *int) error {
	f := n.feed
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := n.checkLocked(); err != nil {
		return err
	}
	p := n.post
	switch n.role {
	case RoleLike, RoleUnlike, RoleCaret:
		if *failures > 0 {
			*failures--
			return fmt.Errorf("%w: %s", ErrClick, n.role)
		}
	}
	switch n.role {
	case RoleLike:
		if !p.ToggleNoop {
			p.Liked = true
			p.Likes++
			p.toggleGen++
			f.record("like", p)
		}
	case RoleUnlike:
		if !p.ToggleNoop {
			p.Liked = false
			if p.Likes > 0 {
				p.Likes--
			}
			p.toggleGen++
			f.record("unlike", p)
		}
	case RoleCaret:
		if !p.MenuNeverOpens {
			f.menuFor = p
			f.menuSeq++
			f.record("menu", p)
		}
	case RoleDelete:
		f.menuFor = nil
		f.record("delete-menu", p)
		if !p.ConfirmNeverAppears {
			f.sheetFor = p
			f.sheetSeq++
		}
	case RoleConfirm:
		f.sheetFor = nil
		if !p.ConfirmNoop {
			p.deleted = true
			f.gen++
			f.record("delete", p)
		}
	}
	return nil
}
