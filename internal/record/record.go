package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// KeyField is the identity key shared by listing and detail records.
const KeyField = "name"

// Record is an ordered mapping of field name to Value.
type Record struct {
	order  []string
	values map[string]Value
}

// New returns an empty record.
func New() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set stores value under name. New fields are appended; existing fields keep
// their position.
func (r *Record) Set(name string, value Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[name]; !ok {
		r.order = append(r.order, name)
	}
	r.values[name] = value
}

// Get returns the value stored under name.
func (r *Record) Get(name string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.values[name]
	return v, ok
}

// Has reports whether name is present.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Fields returns field names in insertion order.
func (r *Record) Fields() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.order)
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Key returns the trimmed identity key and whether it is usable.
func (r *Record) Key() (string, bool) {
	v, ok := r.Get(KeyField)
	if !ok || v.Kind() != KindScalar {
		return "", false
	}
	key := strings.TrimSpace(v.Text())
	if key == "" || key == NotSpecified {
		return "", false
	}
	return key, true
}

// Update overwrites r's fields with every field present in other, appending
// fields r does not have yet.
func (r *Record) Update(other *Record) {
	if other == nil {
		return
	}
	for _, name := range other.order {
		r.Set(name, other.values[name])
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := New()
	if r == nil {
		return out
	}
	for _, name := range r.order {
		out.Set(name, r.values[name])
	}
	return out
}

// Equal reports whether both records hold the same fields, values and order.
func (r *Record) Equal(other *Record) bool {
	if r.Len() != other.Len() {
		return false
	}
	if !slices.Equal(r.order, other.order) {
		return false
	}
	for _, name := range r.order {
		if !r.values[name].Equal(other.values[name]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the record as an object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(name)
		if err != nil {
			return nil, fmt.Errorf("marshal field name %q: %w", name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := r.values[name].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping its key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object, got %v", tok)
	}
	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read field name: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected field name token %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("read field %q: %w", name, err)
		}
		val, err := fromAny(raw)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		out.Set(name, val)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("close record: %w", err)
	}
	*r = *out
	return nil
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return List(nil), nil
	case string:
		if x == NotSpecified {
			return Unspecified(), nil
		}
		return Scalar(x), nil
	case []any:
		items := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list item %v is not a string", item)
			}
			items = append(items, s)
		}
		return List(items), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// marshalNoEscape encodes v without HTML escaping so markup characters such
// as "&" in extracted text survive verbatim.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
