// CLAUDE:SUMMARY Abstractions over the live rendered page: Document, Element, Query, and the ErrStale sentinel.
// Package dom defines the narrow view of a rendered page that the sweep
// engine acts against. The browser package implements it over Rod; the
// domtest package implements it in memory for tests.
//
// Element handles are transient. Any method may return ErrStale once the
// underlying node has been detached, re-rendered, or scrolled out of the
// virtualised list; callers must then re-enumerate from the Document.
package dom

import (
	"context"
	"errors"
	"fmt"
)

// ErrStale reports that an element handle no longer refers to a live node.
var ErrStale = errors.New("dom: element is stale or detached from the document")

// Kind selects the query language of an expression.
type Kind int

const (
	CSS Kind = iota
	XPath
)

func (k Kind) String() string {
	switch k {
	case CSS:
		return "css"
	case XPath:
		return "xpath"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps "css" and "xpath" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "css", "":
		return CSS, nil
	case "xpath":
		return XPath, nil
	}
	return CSS, fmt.Errorf("dom: unknown query kind %q", s)
}

// Query is one structural match expression.
type Query struct {
	Kind Kind
	Expr string
}

func (q Query) String() string { return q.Kind.String() + ":" + q.Expr }

// Document is the live, mutable page. It has exactly one owner at a time.
type Document interface {
	// Query returns every element matching q anywhere in the document,
	// in document order.
	Query(ctx context.Context, q Query) ([]Element, error)
	// ScrollToBottom scrolls the viewport to the end of the loaded content.
	ScrollToBottom(ctx context.Context) error
	// ScrollBy scrolls the viewport by dy pixels.
	ScrollBy(ctx context.Context, dy int) error
	// Height returns the current scrollable height of the document.
	Height(ctx context.Context) (int, error)
	// ClickOutside clicks an inert area to dismiss open menus and sheets.
	ClickOutside(ctx context.Context) error
}

// Element is a handle to one node of the Document.
type Element interface {
	// Query returns descendants matching q, in document order.
	Query(ctx context.Context, q Query) ([]Element, error)
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	ScrollIntoView(ctx context.Context) error
	Hover(ctx context.Context) error
	// ScriptClick invokes the element's click() from page script.
	ScriptClick(ctx context.Context) error
	// PointerClick simulates a mouse press and release over the element.
	PointerClick(ctx context.Context) error
}

// IsStale reports whether err is, or wraps, ErrStale.
func IsStale(err error) bool { return errors.Is(err, ErrStale) }
