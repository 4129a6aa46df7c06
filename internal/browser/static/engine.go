// Package static implements browser.Engine over fetched HTML with no script
// execution. CSS queries run through goquery and XPath through htmlquery.
// It serves sites that render server-side and doubles as the fixture engine in
// tests.
package static

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

// Engine is a browser.Engine over a parsed document.
type Engine struct {
	loader   Loader
	limiter  *throttle.HostLimiter
	logger   *zap.Logger
	doc      *html.Node
	location string
}

var _ browser.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithLimiter paces Navigate calls per host.
func WithLimiter(l *throttle.HostLimiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New builds an Engine reading documents through loader.
func New(loader Loader, opts ...Option) *Engine {
	e := &Engine{loader: loader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Navigate fetches and parses url.
func (e *Engine) Navigate(ctx context.Context, url string) error {
	if err := e.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	page, err := e.loader.Load(ctx, url)
	if err != nil {
		metrics.ObservePageLoad(url, "error")
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	doc, err := html.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	e.doc = doc
	e.location = page.URL
	if e.location == "" {
		e.location = url
	}
	if looksScriptRendered(page.Body) {
		e.logger.Warn("page looks script-rendered; the chrome engine may see more", zap.String("url", e.location))
	}
	metrics.ObservePageLoad(url, "ok")
	e.logger.Debug("navigated", zap.String("url", e.location), zap.Int("status", page.Status))
	return nil
}

// Location returns the URL of the loaded document.
func (e *Engine) Location(context.Context) (string, error) {
	if e.doc == nil {
		return "", browser.ErrNoDocument
	}
	return e.location, nil
}

// Evaluate is not supported: there is no script runtime.
func (e *Engine) Evaluate(context.Context, string, any) error {
	return browser.ErrScriptsUnsupported
}

// FindElements queries the whole document.
func (e *Engine) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	if e.doc == nil {
		return nil, browser.ErrNoDocument
	}
	return find(ctx, e.doc, q, false)
}

// FindElement returns the first document match.
func (e *Engine) FindElement(ctx context.Context, q browser.Query) (browser.Element, bool, error) {
	els, err := e.FindElements(ctx, q)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

// WaitForElement checks once: a static document never changes, so a miss is
// an immediate timeout.
func (e *Engine) WaitForElement(ctx context.Context, q browser.Query, _ time.Duration) (browser.Element, error) {
	el, ok, err := e.FindElement(ctx, q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", q, browser.ErrTimeout)
	}
	return el, nil
}

// Close drops the loaded document.
func (e *Engine) Close() error {
	e.doc = nil
	return nil
}

func find(ctx context.Context, root *html.Node, q browser.Query, scoped bool) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var nodes []*html.Node
	switch q.Kind {
	case browser.KindCSS:
		nodes = goquery.NewDocumentFromNode(root).Find(q.Expr).Nodes
	default:
		if scoped && !strings.HasPrefix(q.Expr, ".") {
			return nil, fmt.Errorf("element-scoped xpath must be relative: %q", q.Expr)
		}
		found, err := htmlquery.QueryAll(root, q.Expr)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", q, err)
		}
		nodes = found
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, element{node: n})
	}
	return out, nil
}

type element struct {
	node *html.Node
}

func (el element) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	return find(ctx, el.node, q, true)
}

func (el element) Text(context.Context) (string, error) {
	return renderText(el.node), nil
}

func (el element) Attribute(_ context.Context, name string) (string, bool, error) {
	if !htmlquery.ExistsAttr(el.node, name) {
		return "", false, nil
	}
	return htmlquery.SelectAttr(el.node, name), true, nil
}
