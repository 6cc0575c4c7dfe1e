package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Selector pairs a field name with the query used to locate its content.
type Selector struct {
	Name  string `json:"name"  mapstructure:"name"  yaml:"name"`
	Query string `json:"query" mapstructure:"query" yaml:"query"`
}

// SelectorMap is an ordered mapping from field name to selector expression.
// Field names are case-sensitive. Setting an existing name replaces its
// selector in place.
type SelectorMap struct {
	names   []string
	queries map[string]string
}

// NewSelectorMap builds a map from pairs, later pairs overriding earlier ones.
func NewSelectorMap(pairs ...Selector) SelectorMap {
	var m SelectorMap
	for _, p := range pairs {
		m.Set(p.Name, p.Query)
	}
	return m
}

// Set adds or replaces a selector.
func (m *SelectorMap) Set(name, query string) {
	if m.queries == nil {
		m.queries = make(map[string]string)
	}
	if _, ok := m.queries[name]; !ok {
		m.names = append(m.names, name)
	}
	m.queries[name] = query
}

// Get returns the selector for a field.
func (m SelectorMap) Get(name string) (string, bool) {
	q, ok := m.queries[name]
	return q, ok
}

// Len returns the number of fields.
func (m SelectorMap) Len() int { return len(m.names) }

// Names returns field names in order.
func (m SelectorMap) Names() []string {
	return append([]string(nil), m.names...)
}

// Selectors returns the pairs in order.
func (m SelectorMap) Selectors() []Selector {
	out := make([]Selector, len(m.names))
	for i, n := range m.names {
		out[i] = Selector{Name: n, Query: m.queries[n]}
	}
	return out
}

// Clone returns an independent copy.
func (m SelectorMap) Clone() SelectorMap {
	return NewSelectorMap(m.Selectors()...)
}

// Validate rejects an empty map, empty names or queries, and the reserved
// record keys.
func (m SelectorMap) Validate() error {
	if len(m.names) == 0 {
		return &ConfigError{Field: "selectors", Reason: "at least one selector is required", Err: ErrEmptySelectors}
	}
	for _, n := range m.names {
		if strings.TrimSpace(n) == "" {
			return &ConfigError{Field: "selectors", Reason: "field name must not be empty"}
		}
		if n == FieldURL || n == FieldCrawledAt {
			return &ConfigError{Field: "selectors", Reason: fmt.Sprintf("field name %q is reserved", n)}
		}
		if strings.TrimSpace(m.queries[n]) == "" {
			return &ConfigError{Field: "selectors", Reason: fmt.Sprintf("selector for %q must not be empty", n)}
		}
	}
	return nil
}

// String renders the map in the line-oriented "field: selector" format.
func (m SelectorMap) String() string {
	var b strings.Builder
	for i, n := range m.names {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(m.queries[n])
	}
	return b.String()
}

// ParseSelectorText parses "field: selector" lines. Lines without a colon are
// ignored, the first colon splits name from selector, both sides are trimmed
// and a repeated name overwrites the earlier selector.
func ParseSelectorText(text string) SelectorMap {
	var m SelectorMap
	for _, line := range strings.Split(text, "\n") {
		name, query, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		m.Set(strings.TrimSpace(name), strings.TrimSpace(query))
	}
	return m
}

// MarshalJSON writes the map as a JSON object in field order.
func (m SelectorMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range m.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(n)
		vb, _ := json.Marshal(m.queries[n])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts a JSON object (order preserved), a selector text
// string, or an array of {"name","query"} pairs.
func (m *SelectorMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*m = SelectorMap{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*m = ParseSelectorText(text)
		return nil
	case '[':
		var pairs []Selector
		if err := json.Unmarshal(data, &pairs); err != nil {
			return err
		}
		*m = NewSelectorMap(pairs...)
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("selectors: expected object, string or array")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("selectors: expected string key")
		}
		var query string
		if err := dec.Decode(&query); err != nil {
			return fmt.Errorf("selectors: field %q: %w", name, err)
		}
		m.Set(name, query)
	}
	_, err = dec.Token()
	return err
}
