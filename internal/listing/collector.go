// Package listing reads the paginated directory listing, either as full
// records built from each card or as references to detail pages.
package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/pager"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/schema"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

// EntityReference points at one entity's detail page.
type EntityReference struct {
	URL string `json:"url"`
}

// Config controls a Collector.
type Config struct {
	URL string
	// LinkPattern filters detail links; nil accepts every match.
	LinkPattern  *regexp.Regexp
	SettleDelay  time.Duration
	ScrollPause  time.Duration
	LoadTimeout  time.Duration
	DisablePager bool
}

// Collector loads the listing page once per call and reads it.
type Collector struct {
	engine    browser.Engine
	pager     *pager.Pager
	extractor *extract.Extractor
	pauser    throttle.Pauser
	catalog   schema.Listing
	cfg       Config
	logger    *zap.Logger
}

// New builds a Collector.
func New(
	engine browser.Engine,
	p *pager.Pager,
	extractor *extract.Extractor,
	pauser throttle.Pauser,
	catalog schema.Listing,
	cfg Config,
	logger *zap.Logger,
) *Collector {
	if pauser == nil {
		pauser = throttle.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		engine:    engine,
		pager:     p,
		extractor: extractor,
		pauser:    pauser,
		catalog:   catalog,
		cfg:       cfg,
		logger:    logger,
	}
}

// CollectReferences returns the unique detail-page links on the listing, in
// first-seen order. A load timeout ends collection early with whatever was
// found and a nil error.
func (c *Collector) CollectReferences(ctx context.Context) ([]EntityReference, error) {
	links, ok, err := c.load(ctx, c.catalog.Link)
	if err != nil || !ok {
		return nil, err
	}

	base, _ := url.Parse(c.cfg.URL)
	seen := make(map[string]struct{}, len(links))
	refs := make([]EntityReference, 0, len(links))
	for i, link := range links {
		href, present, err := link.Attribute(ctx, c.catalog.LinkAttr)
		if err != nil {
			c.logger.Warn("skipping unreadable link", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !present {
			continue
		}
		abs := resolve(base, href)
		if abs == "" {
			continue
		}
		if c.cfg.LinkPattern != nil && !c.cfg.LinkPattern.MatchString(abs) {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		refs = append(refs, EntityReference{URL: abs})
		c.logger.Debug("reference added", zap.String("url", abs))
	}
	c.logger.Info("collected references", zap.Int("links", len(links)), zap.Int("unique", len(refs)))
	return refs, nil
}

// CollectRecords builds one record per listing card using the card-scoped
// field catalog. Cards that fail are skipped.
func (c *Collector) CollectRecords(ctx context.Context) ([]*record.Record, error) {
	cards, ok, err := c.load(ctx, c.catalog.Card)
	if err != nil || !ok {
		return nil, err
	}

	records := make([]*record.Record, 0, len(cards))
	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec, err := c.readCard(ctx, card)
		if err != nil {
			c.logger.Warn("skipping card", zap.Int("index", i), zap.Error(err))
			continue
		}
		records = append(records, rec)
		name, _ := rec.Key()
		c.logger.Info("card extracted", zap.Int("index", i), zap.String("name", name))
	}
	c.logger.Info("collected listing records", zap.Int("cards", len(cards)), zap.Int("records", len(records)))
	return records, nil
}

func (c *Collector) readCard(ctx context.Context, card browser.Element) (rec *record.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("card extraction panicked: %v", r)
		}
	}()
	rec = record.New()
	for _, spec := range c.catalog.Fields {
		if ferr := c.extractor.ExtractInto(ctx, card, spec, rec); ferr != nil {
			var missing *extract.MissingFieldError
			if errors.As(ferr, &missing) && spec.Name != schema.FieldName {
				c.logger.Debug("card field missing", zap.String("field", spec.Name), zap.Error(ferr))
				continue
			}
			return nil, ferr
		}
	}
	return rec, nil
}

// load navigates, settles, scrolls and waits for the first match of q, then
// returns all matches. ok is false when the wait timed out.
func (c *Collector) load(ctx context.Context, q browser.Query) ([]browser.Element, bool, error) {
	if err := c.engine.Navigate(ctx, c.cfg.URL); err != nil {
		return nil, false, fmt.Errorf("open listing: %w", err)
	}
	if err := c.pauser.Pause(ctx, c.cfg.SettleDelay); err != nil {
		return nil, false, err
	}
	if !c.cfg.DisablePager && c.pager != nil {
		scrolls, err := c.pager.ScrollUntilStable(ctx, c.cfg.ScrollPause)
		switch {
		case errors.Is(err, browser.ErrScriptsUnsupported):
			c.logger.Info("engine cannot scroll, reading the page as served")
		case err != nil:
			return nil, false, fmt.Errorf("scroll listing: %w", err)
		default:
			c.logger.Debug("listing scrolled", zap.Int("scrolls", scrolls))
		}
	}
	if _, err := c.engine.WaitForElement(ctx, q, c.cfg.LoadTimeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			c.logger.Warn("timed out waiting for listing entries", zap.Stringer("query", q))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("wait for listing entries: %w", err)
	}
	els, err := c.engine.FindElements(ctx, q)
	if err != nil {
		return nil, false, fmt.Errorf("read listing entries: %w", err)
	}
	return els, true, nil
}

func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
