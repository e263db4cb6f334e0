// CLAUDE:SUMMARY Rod-backed dom.Document and dom.Element: CSS/XPath queries, visibility, script and pointer clicks, stale mapping.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
)

// PointerTimeout bounds a native click, which waits for the element to
// become interactable.
const PointerTimeout = 5 * time.Second

// Document implements dom.Document over a Rod page.
type Document struct {
	page   *rod.Page
	logger *slog.Logger
}

// NewDocument wraps page.
func NewDocument(page *rod.Page, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page, logger: logger}
}

func (d *Document) Query(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	p := d.page.Context(ctx)
	var els rod.Elements
	var err error
	if q.Kind == dom.XPath {
		els, err = p.ElementsX(q.Expr)
	} else {
		els, err = p.Elements(q.Expr)
	}
	if err != nil {
		return nil, fmt.Errorf("browser: query %s: %w", q, mapErr(err))
	}
	return wrap(els), nil
}

func (d *Document) ScrollToBottom(ctx context.Context) error {
	_, err := d.page.Context(ctx).Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
	if err != nil {
		return fmt.Errorf("browser: scroll to bottom: %w", err)
	}
	return nil
}

func (d *Document) ScrollBy(ctx context.Context, dy int) error {
	_, err := d.page.Context(ctx).Eval(`(dy) => window.scrollBy(0, dy)`, dy)
	if err != nil {
		return fmt.Errorf("browser: scroll by: %w", err)
	}
	return nil
}

func (d *Document) Height(ctx context.Context) (int, error) {
	res, err := d.page.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, fmt.Errorf("browser: height: %w", err)
	}
	return res.Value.Int(), nil
}

// ClickOutside presses Escape and clicks the body, which closes the
// remote UI's menus and confirmation sheets.
func (d *Document) ClickOutside(ctx context.Context) error {
	p := d.page.Context(ctx)
	if err := p.Keyboard.Press(input.Escape); err != nil {
		d.logger.Debug("browser: escape failed", "error", err)
	}
	if _, err := p.Eval(`() => document.body.click()`); err != nil {
		return fmt.Errorf("browser: click outside: %w", err)
	}
	return nil
}

// Element implements dom.Element over a Rod element.
type Element struct {
	el *rod.Element
}

func wrap(els rod.Elements) []dom.Element {
	out := make([]dom.Element, len(els))
	for i, e := range els {
		out[i] = &Element{el: e}
	}
	return out
}

func (e *Element) Query(ctx context.Context, q dom.Query) ([]dom.Element, error) {
	el := e.el.Context(ctx)
	var els rod.Elements
	var err error
	if q.Kind == dom.XPath {
		els, err = el.ElementsX(q.Expr)
	} else {
		els, err = el.Elements(q.Expr)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return wrap(els), nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	return v, mapErr(err)
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	disabled, err := e.el.Context(ctx).Disabled()
	if err != nil {
		return false, mapErr(err)
	}
	if disabled {
		return false, nil
	}
	// Div buttons signal state through aria-disabled only.
	aria, err := e.el.Context(ctx).Attribute("aria-disabled")
	if err != nil {
		return false, mapErr(err)
	}
	return aria == nil || *aria != "true", nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	s, err := e.el.Context(ctx).Text()
	return s, mapErr(err)
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, mapErr(err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).ScrollIntoView())
}

func (e *Element) Hover(ctx context.Context) error {
	return mapErr(e.el.Context(ctx).Hover())
}

func (e *Element) ScriptClick(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return mapErr(err)
}

func (e *Element) PointerClick(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, PointerTimeout)
	defer cancel()
	return mapErr(e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

// staleMessages are CDP error fragments that mean the node is gone.
var staleMessages = []string{
	"Could not find node",
	"Could not find object",
	"Cannot find context",
	"Execution context was destroyed",
	"Node is detached",
	"not attached to the DOM",
}

// mapErr converts Rod's detached-node errors to dom.ErrStale.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, cdp.ErrCtxNotFound) || errors.Is(err, cdp.ErrObjNotFound) {
		return fmt.Errorf("%w: %v", dom.ErrStale, err)
	}
	msg := err.Error()
	for _, m := range staleMessages {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %v", dom.ErrStale, err)
		}
	}
	return err
}
