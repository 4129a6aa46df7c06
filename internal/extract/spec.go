// Package extract implements the ordered-fallback field extractor. A field is
// described declaratively by a FieldSpec; one generic executor walks its
// strategies in order and stops at the first one that yields data.
package extract

import (
	"fmt"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

// FieldKind distinguishes scalar fields from list fields.
type FieldKind string

// Field kinds.
const (
	Scalar FieldKind = "scalar"
	List   FieldKind = "list"
)

// Transform post-processes element text.
type Transform string

// Supported transforms.
const (
	// Trim trims surrounding whitespace (the default).
	Trim Transform = "trim"
	// Split breaks the element text into trimmed lines.
	Split Transform = "split"
)

// Strategy is one DOM query plus the transform applied to what it matches.
type Strategy struct {
	Label     string        `json:"label"`
	Query     browser.Query `json:"query"`
	Attr      string        `json:"attr,omitempty"`
	Transform Transform     `json:"transform,omitempty"`
}

// FieldSpec names a field and the strategies tried, in order, to fill it.
type FieldSpec struct {
	Name       string     `json:"name"`
	Kind       FieldKind  `json:"kind"`
	Required   bool       `json:"required"`
	Strategies []Strategy `json:"strategies"`
}

// Sentinel is the value recorded when the field cannot be filled: an empty
// list for list fields, the unspecified value for scalars.
func (s FieldSpec) Sentinel() record.Value {
	return sentinel(s.Kind)
}

// Validate checks that the spec can be executed.
func (s FieldSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("field name is required")
	}
	switch s.Kind {
	case Scalar, List:
	default:
		return fmt.Errorf("field %s: unknown kind %q", s.Name, s.Kind)
	}
	if len(s.Strategies) == 0 {
		return fmt.Errorf("field %s: at least one strategy is required", s.Name)
	}
	for i, st := range s.Strategies {
		if err := st.Query.Validate(); err != nil {
			return fmt.Errorf("field %s strategy %d: %w", s.Name, i, err)
		}
		switch st.Transform {
		case "", Trim, Split:
		default:
			return fmt.Errorf("field %s strategy %d: unknown transform %q", s.Name, i, st.Transform)
		}
	}
	return nil
}

// MissingFieldError signals that no strategy produced a value for a required
// field. It is a soft condition: the returned value is still the sentinel.
type MissingFieldError struct {
	Field string
	// Faulted is true when every strategy failed with an engine error rather
	// than resolving to empty content.
	Faulted bool
	Cause   error
}

func (e *MissingFieldError) Error() string {
	if e.Faulted {
		return fmt.Sprintf("field %s: all strategies faulted: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("field %s: no strategy produced a value", e.Field)
}

func (e *MissingFieldError) Unwrap() error {
	return e.Cause
}
