// Package detail extracts one full record from an entity's detail page.
package detail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/listing"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/schema"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

// ServicesMode selects where the services list is read from.
type ServicesMode string

// Services modes.
const (
	// ServicesSuffix navigates to the entity URL plus a suffix.
	ServicesSuffix ServicesMode = "suffix"
	// ServicesSamePage reads the services list from the detail page itself.
	ServicesSamePage ServicesMode = "same_page"
	// ServicesNone skips the services sub-step.
	ServicesNone ServicesMode = "none"
)

// Config controls a Crawler.
type Config struct {
	NameWaitTimeout     time.Duration
	ServicesMode        ServicesMode
	ServicesSuffix      string
	ServicesWaitTimeout time.Duration
	ServicesSettle      time.Duration
}

// FieldObserver is told about every field that fell back to its sentinel.
type FieldObserver func(url, field string, err error)

// Crawler reads detail pages. It never fails a crawl: problems are logged and
// reflected in the returned record.
type Crawler struct {
	engine    browser.Engine
	extractor *extract.Extractor
	pauser    throttle.Pauser
	catalog   schema.Detail
	cfg       Config
	observe   FieldObserver
	logger    *zap.Logger
}

// New builds a Crawler.
func New(
	engine browser.Engine,
	extractor *extract.Extractor,
	pauser throttle.Pauser,
	catalog schema.Detail,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if pauser == nil {
		pauser = throttle.Timer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServicesMode == "" {
		cfg.ServicesMode = ServicesSuffix
	}
	if cfg.ServicesSuffix == "" {
		cfg.ServicesSuffix = "/services"
	}
	return &Crawler{
		engine:    engine,
		extractor: extractor,
		pauser:    pauser,
		catalog:   catalog,
		cfg:       cfg,
		logger:    logger,
	}
}

// OnFieldMissing registers fn to be called for each field that came up empty
// or faulted.
func (c *Crawler) OnFieldMissing(fn FieldObserver) {
	c.observe = fn
}

// CrawlDetail loads ref and extracts every catalog field. An empty record
// means the page could not be identified and should be skipped.
func (c *Crawler) CrawlDetail(ctx context.Context, ref listing.EntityReference) *record.Record {
	rec := record.New()
	log := c.logger.With(zap.String("url", ref.URL))

	if err := c.engine.Navigate(ctx, ref.URL); err != nil {
		log.Warn("detail page failed to load", zap.Error(err))
		return rec
	}
	if _, err := c.engine.WaitForElement(ctx, c.catalog.Name.Strategies[0].Query, c.cfg.NameWaitTimeout); err != nil {
		if errors.Is(err, browser.ErrTimeout) {
			log.Warn("entity name never appeared")
		} else {
			log.Warn("waiting for entity name failed", zap.Error(err))
		}
		return rec
	}

	c.field(ctx, log, ref, c.catalog.Name, rec)
	name, ok := rec.Key()
	if !ok {
		log.Warn("entity name missing, skipping page")
		return record.New()
	}
	log = log.With(zap.String("name", name))
	log.Info("extracting details")

	for _, spec := range c.catalog.Fields {
		if ctx.Err() != nil {
			log.Warn("crawl interrupted, remaining fields left unset")
			return rec
		}
		c.field(ctx, log, ref, spec, rec)
	}
	if c.cfg.ServicesMode != ServicesNone && ctx.Err() == nil {
		c.services(ctx, log, ref, rec)
	}
	log.Info("details extracted", zap.Int("fields", rec.Len()))
	return rec
}

// field extracts one spec in isolation. A panic, a fully faulted field or an
// interrupt leaves rec without that field so a merge keeps the stored value.
func (c *Crawler) field(ctx context.Context, log *zap.Logger, ref listing.EntityReference, spec extract.FieldSpec, rec *record.Record) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("field extraction panicked", zap.String("field", spec.Name), zap.Any("panic", r))
			c.notify(ref, spec.Name, fmt.Errorf("panic: %v", r))
		}
	}()

	val, err := c.extractor.Extract(ctx, c.engine, spec)
	var missing *extract.MissingFieldError
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("field cut short by interrupt, leaving it unset", zap.String("field", spec.Name))
		return
	case errors.As(err, &missing) && missing.Faulted:
		log.Warn("field faulted, leaving it unset", zap.String("field", spec.Name), zap.Error(err))
		c.notify(ref, spec.Name, err)
		return
	case err != nil:
		log.Info("field missing", zap.String("field", spec.Name), zap.Error(err))
		c.notify(ref, spec.Name, err)
	case val.IsMissing():
		c.notify(ref, spec.Name, nil)
	default:
		log.Debug("field extracted", zap.String("field", spec.Name), zap.Int("items", len(val.Items())))
	}
	rec.Set(spec.Name, val)
}

func (c *Crawler) services(ctx context.Context, log *zap.Logger, ref listing.EntityReference, rec *record.Record) {
	field := c.catalog.Services.Field
	defer func() {
		if r := recover(); r != nil {
			log.Error("services extraction panicked", zap.Any("panic", r))
			c.notify(ref, field, fmt.Errorf("panic: %v", r))
		}
	}()

	if c.cfg.ServicesMode == ServicesSuffix {
		servicesURL := ServicesURL(ref.URL, c.cfg.ServicesSuffix)
		if err := c.engine.Navigate(ctx, servicesURL); err != nil {
			log.Warn("services page failed to load", zap.String("services_url", servicesURL), zap.Error(err))
			return
		}
	}
	if _, err := c.engine.WaitForElement(ctx, c.catalog.Services.Heading, c.cfg.ServicesWaitTimeout); err != nil {
		if !errors.Is(err, browser.ErrTimeout) {
			log.Warn("waiting for services failed", zap.Error(err))
			return
		}
		log.Info("no services heading")
		rec.Set(field, record.List(nil))
		c.notify(ref, field, nil)
		return
	}
	if err := c.pauser.Pause(ctx, c.cfg.ServicesSettle); err != nil {
		return
	}
	spec := c.catalog.Services.Items
	spec.Name = field
	c.field(ctx, log, ref, spec, rec)
}

func (c *Crawler) notify(ref listing.EntityReference, field string, err error) {
	if c.observe != nil {
		c.observe(ref.URL, field, err)
	}
}

// ServicesURL derives the services sub-page URL for an entity.
func ServicesURL(entityURL, suffix string) string {
	return strings.TrimRight(entityURL, "/") + suffix
}
