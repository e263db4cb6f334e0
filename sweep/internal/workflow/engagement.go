package workflow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
)

// Engagement is the interaction counts of an item at capture time. It is
// only meaningful until the next interaction with the item.
type Engagement struct {
	Replies int `json:"replies"`
	Reposts int `json:"reposts"`
	Likes   int `json:"likes"`
}

// Zero reports whether every count is zero.
func (e Engagement) Zero() bool {
	return e.Replies == 0 && e.Reposts == 0 && e.Likes == 0
}

func (e Engagement) String() string {
	return fmt.Sprintf("R:%d RP:%d L:%d", e.Replies, e.Reposts, e.Likes)
}

// NoEngagement is the predicate of the delete campaign.
func NoEngagement(e Engagement) bool { return e.Zero() }

// ParseCount reads a rendered counter: "", "7", "1,234", "1.2K", "3M".
// Blank means zero.
func ParseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, fmt.Errorf("workflow: bad count %q", s)
	}
	mult := 1.0
	switch last := s[len(s)-1]; last {
	case 'k', 'K':
		mult = 1e3
	case 'm', 'M':
		mult = 1e6
	case 'b', 'B':
		mult = 1e9
	}
	if mult != 1 {
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) || v*mult > math.MaxInt32 {
		return 0, fmt.Errorf("workflow: bad count %q", s)
	}
	return int(v*mult + 0.5), nil
}

// Capture reads the item's engagement counts. Unreadable counts default
// to zero; a stale item is an error.
func (m *Machine) Capture(ctx context.Context, item dom.Element) (Engagement, error) {
	var e Engagement
	for _, c := range []struct {
		role resolve.Role
		dst  *int
	}{
		{resolve.ReplyCount, &e.Replies},
		{resolve.RepostCount, &e.Reposts},
		{resolve.LikeCount, &e.Likes},
	} {
		el, err := m.cfg.Resolver.Resolve(ctx, m.cfg.Doc, item, c.role)
		if err != nil {
			return Engagement{}, err
		}
		if el == nil {
			continue
		}
		text, err := el.Text(ctx)
		if dom.IsStale(err) {
			return Engagement{}, err
		}
		if err != nil {
			m.cfg.Logger.Debug("workflow: count unreadable, assuming 0", "role", c.role, "error", err)
			continue
		}
		n, err := ParseCount(text)
		if err != nil {
			m.cfg.Logger.Debug("workflow: count unreadable, assuming 0", "role", c.role, "text", text)
			continue
		}
		*c.dst = n
	}
	return e, nil
}
