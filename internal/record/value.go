// Package record models extracted entity records: an ordered mapping of field
// names to tri-state values, serialized as a JSON object whose key order is
// preserved across load/save cycles.
package record

import (
	"encoding/json"
	"slices"
)

// NotSpecified is the sentinel written for scalar fields that could not be
// extracted.
const NotSpecified = "Not specified"

// Kind enumerates the shapes a Value can take.
type Kind int

// Value kinds.
const (
	KindUnspecified Kind = iota
	KindScalar
	KindList
)

// Value is a scalar string, a list of strings, or the unspecified sentinel.
// The zero Value is unspecified.
type Value struct {
	kind Kind
	text string
	list []string
}

// Scalar wraps a single string.
func Scalar(s string) Value {
	return Value{kind: KindScalar, text: s}
}

// List wraps a list of strings. A nil list is stored as empty so it
// serializes as [] rather than null.
func List(items []string) Value {
	out := make([]string, len(items))
	copy(out, items)
	return Value{kind: KindList, list: out}
}

// Unspecified returns the sentinel value.
func Unspecified() Value {
	return Value{}
}

// Kind reports the shape of v.
func (v Value) Kind() Kind {
	return v.kind
}

// Text returns the scalar text, or NotSpecified for the sentinel.
func (v Value) Text() string {
	if v.kind == KindUnspecified {
		return NotSpecified
	}
	return v.text
}

// Items returns a copy of the list items (nil for non-lists).
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	return slices.Clone(v.list)
}

// IsMissing reports whether v carries no extracted data: the sentinel or an
// empty list.
func (v Value) IsMissing() bool {
	switch v.kind {
	case KindUnspecified:
		return true
	case KindList:
		return len(v.list) == 0
	default:
		return v.text == ""
	}
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		return v.text == other.text
	case KindList:
		return slices.Equal(v.list, other.list)
	default:
		return true
	}
}

// MarshalJSON encodes scalars and the sentinel as strings and lists as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindScalar:
		return marshalNoEscape(v.text)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return marshalNoEscape(v.list)
	default:
		return marshalNoEscape(NotSpecified)
	}
}

// UnmarshalJSON accepts a string, an array of strings, or null (empty list).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
