// Package chrome implements browser.Engine on top of a single chromedp tab.
package chrome

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
)

// Config controls the browser session.
type Config struct {
	Headless          bool
	UserAgent         string
	ExecPath          string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
	QueryTimeout      time.Duration
}

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultQueryTimeout      = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavigationTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = defaultQueryTimeout
	}
	return c
}

func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("disable-gpu", true),
	)
	if !c.Headless {
		opts = append(opts, chromedp.Flag("headless", false), chromedp.Flag("hide-scrollbars", false))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.WindowWidth > 0 && c.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(c.WindowWidth, c.WindowHeight))
	}
	return opts
}

// Session is one browser tab driven serially through the browser.Engine
// interface. Page state persists across calls.
type Session struct {
	cfg             Config
	logger          *zap.Logger
	tabCtx          context.Context
	tabCancel       context.CancelFunc
	allocatorCancel context.CancelFunc
	status          *documentStatus
	closeOnce       sync.Once
}

var _ browser.Engine = (*Session)(nil)

// New launches Chrome and opens the tab used for the whole run.
func New(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), cfg.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s := &Session{
		cfg:             cfg,
		logger:          logger,
		tabCtx:          tabCtx,
		tabCancel:       tabCancel,
		allocatorCancel: allocatorCancel,
		status:          &documentStatus{},
	}
	chromedp.ListenTarget(tabCtx, s.status.captureEvent)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("enable network domain: %w", err)
	}
	if cfg.UserAgent != "" {
		if err := chromedp.Run(tabCtx, emulation.SetUserAgentOverride(cfg.UserAgent)); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("set user-agent: %w", err)
		}
	}
	return s, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocatorCancel()
	})
	return nil
}

// run executes actions on the tab, bounded by timeout and by ctx.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	err := chromedp.Run(taskCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the body to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.status.reset()
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	code := s.status.code()
	if err != nil {
		metrics.ObservePageLoad(url, "error")
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	metrics.ObservePageLoad(url, statusClass(code))
	s.logger.Debug("navigated", zap.String("url", url), zap.Int("status", code))
	return nil
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// Evaluate runs script and decodes its result into out.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// FindElements returns every document-level match without waiting.
func (s *Session) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	return s.findFrom(ctx, nil, q)
}

// FindElement returns the first match, if any.
func (s *Session) FindElement(ctx context.Context, q browser.Query) (browser.Element, bool, error) {
	els, err := s.FindElements(ctx, q)
	if err != nil || len(els) == 0 {
		return nil, false, err
	}
	return els[0], true, nil
}

// WaitForElement polls until q matches or timeout elapses.
func (s *Session) WaitForElement(ctx context.Context, q browser.Query, timeout time.Duration) (browser.Element, error) {
	sel, opts, err := selector(nil, q)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	opts = append(opts, chromedp.NodeReady)
	err = s.run(ctx, timeout, chromedp.Nodes(sel, &nodes, opts...))
	switch {
	case err == nil && len(nodes) > 0:
		return &element{session: s, node: nodes[0]}, nil
	case err == nil, errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("%s: %w", q, browser.ErrTimeout)
	default:
		return nil, fmt.Errorf("wait for %s: %w", q, err)
	}
}

func (s *Session) findFrom(ctx context.Context, from *cdp.Node, q browser.Query) ([]browser.Element, error) {
	sel, opts, err := selector(from, q)
	if err != nil {
		return nil, err
	}
	var nodes []*cdp.Node
	opts = append(opts, chromedp.AtLeast(0))
	if err := s.run(ctx, s.cfg.QueryTimeout, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", q, err)
	}
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &element{session: s, node: n})
	}
	return out, nil
}

// selector translates a Query into chromedp selector options. Element-scoped
// XPath is anchored on the element's absolute path because chromedp's search
// backend cannot start from a node.
func selector(from *cdp.Node, q browser.Query) (string, []chromedp.QueryOption, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	switch q.Kind {
	case browser.KindCSS:
		if from != nil {
			return q.Expr, []chromedp.QueryOption{chromedp.ByQueryAll, chromedp.FromNode(from)}, nil
		}
		return q.Expr, []chromedp.QueryOption{chromedp.ByQueryAll}, nil
	default:
		if from == nil {
			return q.Expr, []chromedp.QueryOption{chromedp.BySearch}, nil
		}
		expr, err := anchorXPath(from.FullXPath(), q.Expr)
		if err != nil {
			return "", nil, err
		}
		return expr, []chromedp.QueryOption{chromedp.BySearch}, nil
	}
}

func anchorXPath(base, expr string) (string, error) {
	if !strings.HasPrefix(expr, ".") {
		return "", fmt.Errorf("element-scoped xpath must be relative: %q", expr)
	}
	return base + strings.TrimPrefix(expr, "."), nil
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "unknown"
	case code < 400:
		return "ok"
	default:
		return fmt.Sprintf("%dxx", code/100)
	}
}

type element struct {
	session *Session
	node    *cdp.Node
}

func (e *element) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	return e.session.findFrom(ctx, e.node, q)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var text string
	if err := e.session.run(ctx, e.session.cfg.QueryTimeout,
		chromedp.Text([]cdp.NodeID{e.node.NodeID}, &text, chromedp.ByNodeID),
	); err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	return text, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		val string
		ok  bool
	)
	if err := e.session.run(ctx, e.session.cfg.QueryTimeout,
		chromedp.AttributeValue([]cdp.NodeID{e.node.NodeID}, name, &val, &ok, chromedp.ByNodeID),
	); err != nil {
		return "", false, fmt.Errorf("attribute %s: %w", name, err)
	}
	return val, ok, nil
}

// documentStatus records the status code of the most recent document response.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) reset() {
	d.mu.Lock()
	d.status = 0
	d.mu.Unlock()
}

func (d *documentStatus) code() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
