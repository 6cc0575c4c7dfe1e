package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Reserved record keys set on every extracted record.
const (
	FieldURL       = "url"
	FieldCrawledAt = "crawled_at"
)

// Record is one extracted page: an ordered mapping from field name to Value.
// Selector fields come first in selector-map order, followed by url and
// crawled_at.
type Record struct {
	keys   []string
	values map[string]Value
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]Value)}
}

// Set sets a field value. Setting an existing field keeps its position.
func (r *Record) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

// Get retrieves a field value.
func (r *Record) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

// GetString retrieves a field value flattened to a string.
func (r *Record) GetString(key string) string {
	v, ok := r.values[key]
	if !ok {
		return ""
	}
	return v.String()
}

// Has returns true if the field exists.
func (r *Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns field names in insertion order.
func (r *Record) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r *Record) Len() int { return len(r.keys) }

// URL returns the source page URL.
func (r *Record) URL() string { return r.GetString(FieldURL) }

// CrawledAt parses the crawled_at field.
func (r *Record) CrawledAt() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, r.GetString(FieldCrawledAt))
}

// ToFlatMap returns a flat map suitable for CSV export.
func (r *Record) ToFlatMap() map[string]string {
	flat := make(map[string]string, len(r.keys))
	for _, k := range r.keys {
		flat[k] = r.values[k].String()
	}
	return flat
}

// Clone creates a deep copy of the record.
func (r *Record) Clone() *Record {
	clone := &Record{
		keys:   append([]string(nil), r.keys...),
		values: make(map[string]Value, len(r.values)),
	}
	for k, v := range r.values {
		if v.kind == KindSequence {
			v = Sequence(v.items)
		}
		clone.values[k] = v
	}
	return clone
}

// Equal compares two records field by field, optionally ignoring some keys.
func (r *Record) Equal(o *Record, ignore ...string) bool {
	skip := make(map[string]bool, len(ignore))
	for _, k := range ignore {
		skip[k] = true
	}
	filter := func(keys []string) []string {
		out := keys[:0:0]
		for _, k := range keys {
			if !skip[k] {
				out = append(out, k)
			}
		}
		return out
	}
	a, b := filter(r.keys), filter(o.keys)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] || !r.values[a[i]].Equal(o.values[b[i]]) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the record as a JSON object in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := r.values[k].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving key order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected JSON object")
	}
	*r = Record{values: make(map[string]Value)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("record: expected string key")
		}
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("record field %q: %w", key, err)
		}
		r.Set(key, v)
	}
	_, err = dec.Token()
	return err
}
