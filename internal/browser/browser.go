// Package browser defines the automation-engine capability consumed by the
// extraction pipeline. Implementations live in the chromedp and static
// subpackages; the pipeline only depends on the interfaces declared here so a
// scripted engine can be substituted in tests.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout reports that an awaited element never appeared in time.
	ErrTimeout = errors.New("wait for element timed out")
	// ErrScriptsUnsupported is returned by engines that cannot run page scripts.
	ErrScriptsUnsupported = errors.New("engine does not evaluate scripts")
	// ErrNoDocument is returned when a query is issued before any navigation.
	ErrNoDocument = errors.New("no document loaded")
)

// Scope is anything elements can be queried from: the whole document or a
// single element.
type Scope interface {
	FindElements(ctx context.Context, q Query) ([]Element, error)
}

// Element is a handle to a node in the rendered DOM.
type Element interface {
	Scope
	// Text returns the rendered text content of the element.
	Text(ctx context.Context) (string, error)
	// Attribute returns the named attribute and whether it was present.
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Engine drives one navigable page. Implementations are not safe for
// concurrent use; the pipeline uses a single engine strictly serially.
type Engine interface {
	Scope
	// Navigate loads url and blocks until the document is ready.
	Navigate(ctx context.Context, url string) error
	// Location returns the URL of the current document.
	Location(ctx context.Context) (string, error)
	// Evaluate runs script in the page and decodes its result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// FindElement returns the first match, reporting false when there is none.
	FindElement(ctx context.Context, q Query) (Element, bool, error)
	// WaitForElement blocks until q matches or timeout elapses (ErrTimeout).
	WaitForElement(ctx context.Context, q Query, timeout time.Duration) (Element, error)
	// Close releases the underlying session.
	Close() error
}
