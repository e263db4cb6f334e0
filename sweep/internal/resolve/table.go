// CLAUDE:SUMMARY Semantic roles and the default X.com strategy table, ordered from stable test ids to structural fallbacks.
package resolve

import (
	"fmt"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
)

// Role names a semantic target inside a feed item or the page.
type Role string

const (
	FeedItem       Role = "feed-item"
	LikeControl    Role = "like-control"
	UnlikeControl  Role = "unlike-control"
	OverflowMenu   Role = "overflow-menu-control"
	MenuItemDelete Role = "menu-item:delete"
	ConfirmButton  Role = "confirm-button"
	Permalink      Role = "permalink"
	PromotedMarker Role = "promoted-marker"
	ReplyCount     Role = "reply-count"
	RepostCount    Role = "repost-count"
	LikeCount      Role = "like-count"
)

// Scope says where a strategy is evaluated.
type Scope int

const (
	// InItem evaluates relative to the feed item being processed.
	InItem Scope = iota
	// InDocument evaluates against the whole page (menus, dialogs).
	InDocument
)

// ParseScope maps "item" and "document" to a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "item", "":
		return InItem, nil
	case "document":
		return InDocument, nil
	}
	return InItem, fmt.Errorf("resolve: unknown scope %q", s)
}

// Strategy is one structural way of finding a role.
type Strategy struct {
	Name  string
	Query dom.Query
	Scope Scope
}

// Table holds the ordered strategies of every role.
type Table map[Role][]Strategy

// Clone returns a deep copy so callers can override roles safely.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for r, ss := range t {
		out[r] = append([]Strategy(nil), ss...)
	}
	return out
}

// Exprs flattens the table to role name → expressions, in strategy order.
func (t Table) Exprs() map[string][]string {
	out := make(map[string][]string, len(t))
	for r, ss := range t {
		for _, s := range ss {
			out[string(r)] = append(out[string(r)], s.Query.Expr)
		}
	}
	return out
}

func css(name, expr string, scope Scope) Strategy {
	return Strategy{Name: name, Query: dom.Query{Kind: dom.CSS, Expr: expr}, Scope: scope}
}

func xpath(name, expr string, scope Scope) Strategy {
	return Strategy{Name: name, Query: dom.Query{Kind: dom.XPath, Expr: expr}, Scope: scope}
}

// heartPath is the outline heart icon drawn inside the like button.
const heartPath = `M16.697 5.5c-1.222-.06-2.679.51-3.89 2.16l-.805 1.09-.806-1.09C9.984 6.01 8.526 5.44 7.304 5.5c-1.243.07-2.349.78-2.91 1.91-.552 1.12-.633 2.78.479 4.82 1.074 1.97 3.257 4.27 7.129 6.61 3.87-2.34 6.052-4.64 7.126-6.61 1.111-2.04 1.03-3.7.477-4.82-.561-1.13-1.666-1.84-2.908-1.91zm4.187 7.69c-1.351 2.48-4.001 5.12-8.379 7.67l-.503.3-.504-.3c-4.379-2.55-7.029-5.19-8.382-7.67-1.36-2.5-1.41-4.86-.514-6.67.887-1.79 2.647-2.91 4.601-3.01 1.651-.09 3.368.56 4.798 2.01 1.429-1.45 3.146-2.1 4.796-2.01 1.954.1 3.714 1.22 4.601 3.01.896 1.81.846 4.17-.514 6.67z`

// DefaultTable returns the X.com table. X renames things often; keep all
// selectors here and override them from configuration when they drift.
func DefaultTable() Table {
	return Table{
		FeedItem: {
			css("testid", `article[data-testid="tweet"]`, InDocument),
			css("article", `article`, InDocument),
		},
		LikeControl: {
			css("testid", `button[data-testid="like"]`, InItem),
			xpath("aria-label", `.//button[contains(@aria-label, "Like") and not(contains(@aria-label, "Liked"))]`, InItem),
			xpath("heart-icon", `.//button[.//*[local-name()="path" and @d="`+heartPath+`"]]`, InItem),
		},
		UnlikeControl: {
			css("testid", `[data-testid="unlike"]`, InItem),
			xpath("aria-label", `.//button[contains(@aria-label, "Liked")]`, InItem),
		},
		OverflowMenu: {
			css("testid", `div[data-testid="caret"]`, InItem),
			xpath("aria-label", `.//div[contains(@aria-label, "More") and @role="button"]`, InItem),
			xpath("icon-button", `.//div[@role="button" and @tabindex="0" and .//*[local-name()="svg" and (contains(@aria-label, "More") or @aria-label="Down arrow")]]`, InItem),
		},
		MenuItemDelete: {
			xpath("menuitem-text", `//div[@role="menuitem" and (.//span[contains(translate(text(), "DELETE", "delete"), "delete")] or contains(translate(@aria-label, "DELETE", "delete"), "delete"))]`, InDocument),
		},
		ConfirmButton: {
			css("testid", `[data-testid="confirmationSheetConfirm"]`, InDocument),
			xpath("sheet-button", `//div[@role="alertdialog"]//button[.//span[contains(translate(text(), "DELETE", "delete"), "delete")]]`, InDocument),
		},
		Permalink: {
			xpath("time-link", `.//a[.//time and contains(@href, "/status/")]`, InItem),
			css("status-link", `a[href*="/status/"]`, InItem),
		},
		PromotedMarker: {
			xpath("promoted-label", `.//span[text()="Promoted" or text()="Ad"]`, InItem),
			css("placement", `[data-testid="placementTracking"]`, InItem),
		},
		ReplyCount: {
			css("testid", `button[data-testid="reply"] span[data-testid="app-text-transition-container"] > span`, InItem),
		},
		RepostCount: {
			css("testid", `button[data-testid="retweet"] span[data-testid="app-text-transition-container"] > span`, InItem),
			css("testid-undo", `button[data-testid="unretweet"] span[data-testid="app-text-transition-container"] > span`, InItem),
		},
		LikeCount: {
			css("testid", `button[data-testid="like"] span[data-testid="app-text-transition-container"] > span`, InItem),
			css("testid-liked", `button[data-testid="unlike"] span[data-testid="app-text-transition-container"] > span`, InItem),
		},
	}
}
