// CLAUDE:SUMMARY Structural query resolver: evaluates a role's strategies in order and returns the first visible, enabled match.
// Package resolve finds interactive controls under competing structural
// strategies. The remote UI's stable test ids are tried first; accessibility
// labels and structural fallbacks follow when a redesign breaks them.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
)

// Resolver evaluates role strategies against a document. It holds no state
// besides its table and is safe to share between campaigns.
type Resolver struct {
	table  Table
	logger *slog.Logger
}

// New creates a Resolver. A nil table selects DefaultTable.
func New(table Table, logger *slog.Logger) *Resolver {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{table: table, logger: logger}
}

// Strategies returns the ordered strategies of a role.
func (r *Resolver) Strategies(role Role) []Strategy {
	return r.table[role]
}

// Resolve returns the first visible and enabled element for role, or nil
// when no strategy matches. Absence is not an error. Strategies after the
// first success are not evaluated. item may be nil for document-scoped roles.
func (r *Resolver) Resolve(ctx context.Context, doc dom.Document, item dom.Element, role Role) (dom.Element, error) {
	strategies, ok := r.table[role]
	if !ok {
		return nil, fmt.Errorf("resolve: unknown role %q", role)
	}
	for _, s := range strategies {
		matches, err := r.query(ctx, doc, item, s)
		if err != nil {
			return nil, err
		}
		for _, el := range matches {
			usable, err := interactable(ctx, el)
			if err != nil {
				if dom.IsStale(err) {
					// A sibling match vanished; the scope itself may still be fine.
					continue
				}
				return nil, err
			}
			if usable {
				r.logger.Debug("resolve: matched", "role", role, "strategy", s.Name)
				return el, nil
			}
		}
	}
	return nil, nil
}

// ResolveAll returns every match of the first strategy that matches
// anything, without visibility filtering. Used to enumerate feed items.
func (r *Resolver) ResolveAll(ctx context.Context, doc dom.Document, item dom.Element, role Role) ([]dom.Element, error) {
	strategies, ok := r.table[role]
	if !ok {
		return nil, fmt.Errorf("resolve: unknown role %q", role)
	}
	for _, s := range strategies {
		matches, err := r.query(ctx, doc, item, s)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}

// Present reports whether role resolves to anything usable.
func (r *Resolver) Present(ctx context.Context, doc dom.Document, item dom.Element, role Role) (bool, error) {
	el, err := r.Resolve(ctx, doc, item, role)
	return el != nil, err
}

func (r *Resolver) query(ctx context.Context, doc dom.Document, item dom.Element, s Strategy) ([]dom.Element, error) {
	if s.Scope == InDocument || item == nil {
		if doc == nil {
			return nil, fmt.Errorf("resolve: strategy %q needs a document", s.Name)
		}
		return doc.Query(ctx, s.Query)
	}
	return item.Query(ctx, s.Query)
}

func interactable(ctx context.Context, el dom.Element) (bool, error) {
	visible, err := el.Visible(ctx)
	if err != nil || !visible {
		return false, err
	}
	return el.Enabled(ctx)
}
