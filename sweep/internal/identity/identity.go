// Package identity derives stable identities for feed items and records
// which ones a campaign has already processed.
//
// A durable identity comes from the item's permalink. When none can be
// read the identity falls back to a positional key (enumeration index and
// offset), which is unique per enumeration but not stable across them: a
// positional item seen again after the list shifted is treated as new.
package identity

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind distinguishes durable from positional identities.
type Kind uint8

const (
	Durable Kind = iota + 1
	Positional
)

func (k Kind) String() string {
	switch k {
	case Durable:
		return "durable"
	case Positional:
		return "positional"
	}
	return "unknown"
}

// ID identifies one feed item. Comparable; equality is structural.
type ID struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (id ID) String() string {
	if id.Kind == Positional {
		return "pos:" + id.Value
	}
	return id.Value
}

// IsZero reports whether id was never set.
func (id ID) IsZero() bool { return id.Kind == 0 && id.Value == "" }

// Short returns the last path segment of a durable id (the status number)
// for log lines.
func (id ID) Short() string {
	if id.Kind != Durable {
		return id.String()
	}
	v := strings.TrimRight(id.Value, "/")
	if i := strings.LastIndexByte(v, '/'); i >= 0 {
		return v[i+1:]
	}
	return v
}

// Derive builds an ID from a permalink, falling back to the position of
// the item in enumeration pass at offset.
func Derive(permalink string, pass, offset int) ID {
	if p := normalize(permalink); p != "" {
		return ID{Kind: Durable, Value: p}
	}
	return ID{Kind: Positional, Value: fmt.Sprintf("p%d-o%d", pass, offset)}
}

// normalize strips scheme, host, query and trailing analytics segments so
// the same status reached through different links compares equal.
func normalize(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if u, err := url.Parse(link); err == nil {
		link = u.Path
	}
	link = strings.TrimRight(link, "/")
	// /user/status/123/analytics, /user/status/123/photo/1 → /user/status/123
	parts := strings.Split(link, "/")
	for i, p := range parts {
		if p == "status" && i+1 < len(parts) {
			return strings.Join(parts[:i+2], "/")
		}
	}
	return link
}

// Tracker is the set of processed identities of one campaign run. It is
// not safe for concurrent use; a campaign is single-threaded.
type Tracker struct {
	seen  map[ID]struct{}
	order []ID
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[ID]struct{})}
}

// Seen reports whether id was already processed.
func (t *Tracker) Seen(id ID) bool {
	_, ok := t.seen[id]
	return ok
}

// Mark records id as processed. It returns false if id was already there.
func (t *Tracker) Mark(id ID) bool {
	if _, ok := t.seen[id]; ok {
		return false
	}
	t.seen[id] = struct{}{}
	t.order = append(t.order, id)
	return true
}

// Len returns the number of processed identities.
func (t *Tracker) Len() int { return len(t.order) }

// List returns processed identities in processing order.
func (t *Tracker) List() []ID {
	return append([]ID(nil), t.order...)
}
