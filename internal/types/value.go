package types

import (
	"encoding/json"
	"strings"
)

// ValueKind distinguishes the two shapes an extracted field can take.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindSequence
)

func (k ValueKind) String() string {
	if k == KindSequence {
		return "sequence"
	}
	return "scalar"
}

// Value is the result of applying one selector to a document: a single
// string when zero or one element matched, an ordered list when several did.
// The zero Value is the empty scalar.
type Value struct {
	kind   ValueKind
	scalar string
	items  []string
}

// Scalar returns a single-string value.
func Scalar(s string) Value {
	return Value{kind: KindScalar, scalar: s}
}

// Sequence returns a list value. The slice is copied.
func Sequence(items []string) Value {
	return Value{kind: KindSequence, items: append([]string(nil), items...)}
}

// Kind reports which variant is populated.
func (v Value) Kind() ValueKind { return v.kind }

// Scalar returns the string of a scalar value and false for sequences.
func (v Value) Scalar() (string, bool) {
	if v.kind != KindScalar {
		return "", false
	}
	return v.scalar, true
}

// Items returns a copy of the list for sequences, or a one-element list for
// a non-empty scalar.
func (v Value) Items() []string {
	if v.kind == KindSequence {
		return append([]string(nil), v.items...)
	}
	if v.scalar == "" {
		return nil
	}
	return []string{v.scalar}
}

// IsEmpty reports whether the selector matched nothing.
func (v Value) IsEmpty() bool {
	if v.kind == KindSequence {
		return len(v.items) == 0
	}
	return v.scalar == ""
}

// String flattens the value for tabular sinks. Sequence items are joined
// with " | ".
func (v Value) String() string {
	if v.kind == KindSequence {
		return strings.Join(v.items, " | ")
	}
	return v.scalar
}

// Interface returns a string or a []string, for sinks that store native
// documents.
func (v Value) Interface() any {
	if v.kind == KindSequence {
		return v.Items()
	}
	return v.scalar
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind == KindScalar {
		return v.scalar == o.scalar
	}
	if len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if v.items[i] != o.items[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes scalars as JSON strings and sequences as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindSequence {
		items := v.items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(v.scalar)
}

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Scalar(s)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*v = Sequence(items)
	return nil
}
