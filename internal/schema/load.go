package schema

import (
	"fmt"
	"os"

	"github.com/titanous/json5"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/extract"
)

// override mirrors Catalog with every section optional.
type override struct {
	Detail *struct {
		Name     *extract.FieldSpec  `json:"name"`
		Fields   []extract.FieldSpec `json:"fields"`
		Services *Services           `json:"services"`
	} `json:"detail"`
	Listing *struct {
		Card     *browser.Query      `json:"card"`
		Link     *browser.Query      `json:"link"`
		LinkAttr string              `json:"link_attr"`
		Fields   []extract.FieldSpec `json:"fields"`
	} `json:"listing"`
}

// LoadFile reads a JSON5 selector file and layers it over Default. Fields are
// matched by name: a known name replaces the default spec, a new name is
// appended. The result is validated.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	return Parse(data)
}

// Parse layers JSON5 data over Default.
func Parse(data []byte) (Catalog, error) {
	var o override
	if err := json5.Unmarshal(data, &o); err != nil {
		return Catalog{}, fmt.Errorf("parse schema: %w", err)
	}
	cat := Default()
	if d := o.Detail; d != nil {
		if d.Name != nil {
			cat.Detail.Name = *d.Name
		}
		cat.Detail.Fields = mergeFields(cat.Detail.Fields, d.Fields)
		if d.Services != nil {
			cat.Detail.Services = *d.Services
		}
	}
	if l := o.Listing; l != nil {
		if l.Card != nil {
			cat.Listing.Card = *l.Card
		}
		if l.Link != nil {
			cat.Listing.Link = *l.Link
		}
		if l.LinkAttr != "" {
			cat.Listing.LinkAttr = l.LinkAttr
		}
		cat.Listing.Fields = mergeFields(cat.Listing.Fields, l.Fields)
	}
	if err := cat.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("invalid schema: %w", err)
	}
	return cat, nil
}

func mergeFields(base, overrides []extract.FieldSpec) []extract.FieldSpec {
	out := make([]extract.FieldSpec, len(base))
	copy(out, base)
	index := make(map[string]int, len(out))
	for i, f := range out {
		index[f.Name] = i
	}
	for _, f := range overrides {
		if i, ok := index[f.Name]; ok {
			out[i] = f
			continue
		}
		index[f.Name] = len(out)
		out = append(out, f)
	}
	return out
}
