package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Page is a fetched HTML document.
type Page struct {
	URL    string
	Status int
	Body   []byte
}

// Loader fetches raw documents for the static engine.
type Loader interface {
	Load(ctx context.Context, url string) (Page, error)
}

// ErrNotFound is returned by MapLoader for unknown URLs.
var ErrNotFound = errors.New("page not found")

// MapLoader serves documents from memory, keyed by URL.
type MapLoader map[string]string

// Load returns the stored document for url.
func (m MapLoader) Load(ctx context.Context, url string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	body, ok := m[url]
	if !ok {
		return Page{}, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	return Page{URL: url, Status: http.StatusOK, Body: []byte(body)}, nil
}

// CollyConfig controls CollyLoader.
type CollyConfig struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// CollyLoader fetches documents over HTTP using a colly collector.
type CollyLoader struct {
	cfg  CollyConfig
	base *colly.Collector
}

// NewCollyLoader builds a CollyLoader.
func NewCollyLoader(cfg CollyConfig) *CollyLoader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.SetRequestTimeout(cfg.Timeout)
	return &CollyLoader{cfg: cfg, base: c}
}

// Load performs a single GET and returns the final URL and body.
func (l *CollyLoader) Load(ctx context.Context, url string) (Page, error) {
	var (
		page     Page
		fetchErr error
	)
	collector := l.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		page = Page{
			URL:    r.Request.URL.String(),
			Status: r.StatusCode,
			Body:   append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Page{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return Page{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return page, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
