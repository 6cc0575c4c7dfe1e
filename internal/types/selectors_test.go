package types

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseSelectorText(t *testing.T) {
	text := `title: h1
no colon here
  body :  div.content p
link: a[href^="https://"]
title: h2.headline
`
	m := ParseSelectorText(text)

	wantNames := []string{"title", "body", "link"}
	if got := m.Names(); !reflect.DeepEqual(got, wantNames) {
		t.Fatalf("names = %v, want %v", got, wantNames)
	}

	tests := map[string]string{
		"title": "h2.headline",
		"body":  "div.content p",
		"link":  `a[href^="https://"]`,
	}
	for name, want := range tests {
		got, ok := m.Get(name)
		if !ok {
			t.Errorf("missing field %q", name)
			continue
		}
		if got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestParseSelectorTextEmpty(t *testing.T) {
	m := ParseSelectorText("just text\n\nmore text")
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got %d fields", m.Len())
	}
	var ce *ConfigError
	if err := m.Validate(); !errors.As(err, &ce) || !errors.Is(err, ErrEmptySelectors) {
		t.Fatalf("expected ConfigError wrapping ErrEmptySelectors, got %v", err)
	}
}

func TestSelectorMapValidate(t *testing.T) {
	tests := []struct {
		name    string
		m       SelectorMap
		wantErr bool
	}{
		{"ok", NewSelectorMap(Selector{"title", "h1"}), false},
		{"reserved url", NewSelectorMap(Selector{"url", "a"}), true},
		{"reserved crawled_at", NewSelectorMap(Selector{"crawled_at", "time"}), true},
		{"empty query", NewSelectorMap(Selector{"title", "  "}), true},
		{"empty name", NewSelectorMap(Selector{"", "h1"}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelectorMapUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		names []string
	}{
		{"object keeps order", `{"zeta":"h1","alpha":"p","mid":".x"}`, []string{"zeta", "alpha", "mid"}},
		{"text", `"title: h1\nbody: p"`, []string{"title", "body"}},
		{"pairs", `[{"name":"b","query":"p"},{"name":"a","query":"h1"}]`, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m SelectorMap
			if err := json.Unmarshal([]byte(tt.input), &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := m.Names(); !reflect.DeepEqual(got, tt.names) {
				t.Errorf("names = %v, want %v", got, tt.names)
			}
		})
	}
}

func TestSelectorMapUnmarshalJSONRejectsNumber(t *testing.T) {
	var m SelectorMap
	if err := json.Unmarshal([]byte(`42`), &m); err == nil {
		t.Fatal("expected error for numeric selectors")
	}
}

func TestSelectorMapString(t *testing.T) {
	m := NewSelectorMap(Selector{"title", "h1"}, Selector{"body", "p"})
	if got := m.String(); got != "title: h1\nbody: p" {
		t.Errorf("String() = %q", got)
	}
	if again := ParseSelectorText(m.String()); !reflect.DeepEqual(again.Selectors(), m.Selectors()) {
		t.Errorf("text form did not parse back: %v", again.Selectors())
	}
}
