// Copyright 2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package meta provides the metadata model used to partition hosts into
// subsets. A host (or a request's match criteria) carries a flat map of
// string keys to typed values; an ordered, key-sorted sequence of such
// pairs forms the path of a subset in the subset trie.
package meta

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the type of a metadata Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindNumber
	KindBool
)

// Value is a typed metadata value. Values compare by exact (kind, value)
// equality; there is no coercion between kinds. The zero Value is invalid
// and never equal to any valid value, so a host carrying it is simply
// treated as non-matching.
//
// Value is comparable and can be used as a map key.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// StringValue returns a Value holding the given string.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// NumberValue returns a Value holding the given number.
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// BoolValue returns a Value holding the given boolean.
func BoolValue(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// Valid reports whether the value holds one of the supported kinds.
func (v Value) Valid() bool {
	return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool
}

// String renders the value for logging and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<invalid>"
	}
}

// Pair is a single metadata key/value pair.
type Pair struct {
	Key   string
	Value Value
}

// Pairs is an ordered sequence of metadata pairs with keys in ascending
// lexical order. Two Pairs values denote the same subset path iff they
// are pairwise equal by (key, value).
type Pairs []Pair

// NewPairs returns the given pairs sorted by key. When a key appears more
// than once, the last occurrence wins.
func NewPairs(pairs ...Pair) Pairs {
	byKey := make(map[string]Value, len(pairs))
	for _, p := range pairs {
		byKey[p.Key] = p.Value
	}
	return FromMap(byKey)
}

// FromMap builds key-sorted Pairs from a metadata map.
func FromMap(m map[string]Value) Pairs {
	result := make(Pairs, 0, len(m))
	for key, value := range m {
		result = append(result, Pair{Key: key, Value: value})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Equal reports whether two sequences are pairwise equal.
func (p Pairs) Equal(other Pairs) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Sorted reports whether the keys are in strictly ascending order.
func (p Pairs) Sorted() bool {
	for i := 1; i < len(p); i++ {
		if p[i-1].Key >= p[i].Key {
			return false
		}
	}
	return true
}

// Sort returns p with keys in ascending order, deduplicated last-wins.
// If p is already sorted it is returned as-is.
func (p Pairs) Sort() Pairs {
	if p.Sorted() {
		return p
	}
	return NewPairs(p...)
}

// String renders the pairs for logging, e.g. `{stage="prod", version="v1"}`.
func (p Pairs) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, pair := range p {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s=%s", pair.Key, pair.Value)
	}
	sb.WriteByte('}')
	return sb.String()
}
