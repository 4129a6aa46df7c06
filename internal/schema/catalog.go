// Package schema holds the field catalogs for the two record shapes: the
// detail-page record and the listing-card record. Defaults target the drlogy
// directory layout; a JSON5 file can override individual fields.
package schema

import (
	"fmt"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

// Catalog bundles every query the crawler issues.
type Catalog struct {
	Detail  Detail  `json:"detail"`
	Listing Listing `json:"listing"`
}

// Detail describes a detail page.
type Detail struct {
	// Name is awaited before anything else is read; its absence means the
	// page did not load.
	Name     extract.FieldSpec   `json:"name"`
	Fields   []extract.FieldSpec `json:"fields"`
	Services Services            `json:"services"`
}

// Services describes the services sub-step.
type Services struct {
	Field   string            `json:"field"`
	Heading browser.Query     `json:"heading"`
	Items   extract.FieldSpec `json:"items"`
}

// Listing describes the listing page.
type Listing struct {
	Card     browser.Query       `json:"card"`
	Link     browser.Query       `json:"link"`
	LinkAttr string              `json:"link_attr"`
	Fields   []extract.FieldSpec `json:"fields"`
}

// Template returns a record holding the sentinel of every detail field, in
// catalog order.
func (d Detail) Template() *record.Record {
	rec := record.New()
	rec.Set(d.Name.Name, d.Name.Sentinel())
	for _, f := range d.Fields {
		rec.Set(f.Name, f.Sentinel())
	}
	rec.Set(d.Services.Field, record.List(nil))
	return rec
}

// Template returns a record holding the sentinel of every listing field.
func (l Listing) Template() *record.Record {
	rec := record.New()
	for _, f := range l.Fields {
		rec.Set(f.Name, f.Sentinel())
	}
	return rec
}

// Validate checks every spec and query in the catalog.
func (c Catalog) Validate() error {
	if err := c.Detail.Name.Validate(); err != nil {
		return fmt.Errorf("detail name: %w", err)
	}
	if err := validateFields("detail", c.Detail.Fields); err != nil {
		return err
	}
	if c.Detail.Services.Field == "" {
		return fmt.Errorf("detail services: field name is required")
	}
	if err := c.Detail.Services.Heading.Validate(); err != nil {
		return fmt.Errorf("detail services heading: %w", err)
	}
	if err := c.Detail.Services.Items.Validate(); err != nil {
		return fmt.Errorf("detail services items: %w", err)
	}
	if err := c.Listing.Card.Validate(); err != nil {
		return fmt.Errorf("listing card: %w", err)
	}
	if err := c.Listing.Link.Validate(); err != nil {
		return fmt.Errorf("listing link: %w", err)
	}
	if c.Listing.LinkAttr == "" {
		return fmt.Errorf("listing link_attr is required")
	}
	return validateFields("listing", c.Listing.Fields)
}

func validateFields(section string, fields []extract.FieldSpec) error {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%s: %w", section, err)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("%s: duplicate field %s", section, f.Name)
		}
		seen[f.Name] = struct{}{}
		if section != "listing" {
			continue
		}
		for i, st := range f.Strategies {
			if st.Query.Kind == browser.KindXPath && !isRelative(st.Query.Expr) {
				return fmt.Errorf("%s: field %s strategy %d: card xpath must be relative", section, f.Name, i)
			}
		}
	}
	return nil
}

func isRelative(expr string) bool {
	return len(expr) > 0 && expr[0] == '.'
}
