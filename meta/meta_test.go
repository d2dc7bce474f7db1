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

package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueEquality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StringValue("v1"), StringValue("v1"))
	assert.NotEqual(t, StringValue("v1"), StringValue("v2"))

	// No coercion across kinds.
	assert.NotEqual(t, StringValue("1"), NumberValue(1))
	assert.NotEqual(t, BoolValue(true), StringValue("true"))

	var zero Value
	assert.False(t, zero.Valid())
	assert.NotEqual(t, zero, StringValue(""))
	assert.Equal(t, "<invalid>", zero.String())
}

func TestValueAsMapKey(t *testing.T) {
	t.Parallel()

	m := map[Value]int{
		StringValue("a"): 1,
		NumberValue(2):   2,
		BoolValue(true):  3,
	}
	assert.Equal(t, 1, m[StringValue("a")])
	assert.Equal(t, 2, m[NumberValue(2)])
	assert.Equal(t, 3, m[BoolValue(true)])
	_, ok := m[StringValue("2")]
	assert.False(t, ok)
}

func TestPairsOrdering(t *testing.T) {
	t.Parallel()

	pairs := NewPairs(
		Pair{Key: "version", Value: StringValue("v1")},
		Pair{Key: "stage", Value: StringValue("prod")},
	)
	assert.True(t, pairs.Sorted())
	assert.Equal(t, "stage", pairs[0].Key)
	assert.Equal(t, "version", pairs[1].Key)

	fromMap := FromMap(map[string]Value{
		"version": StringValue("v1"),
		"stage":   StringValue("prod"),
	})
	assert.True(t, pairs.Equal(fromMap))
}

func TestPairsLastKeyWins(t *testing.T) {
	t.Parallel()

	pairs := NewPairs(
		Pair{Key: "version", Value: StringValue("v1")},
		Pair{Key: "version", Value: StringValue("v2")},
	)
	assert.Len(t, pairs, 1)
	assert.Equal(t, StringValue("v2"), pairs[0].Value)
}

func TestPairsSort(t *testing.T) {
	t.Parallel()

	sorted := Pairs{
		{Key: "a", Value: StringValue("1")},
		{Key: "b", Value: StringValue("2")},
	}
	// Already sorted input is returned unchanged.
	assert.Equal(t, sorted, sorted.Sort())

	unsorted := Pairs{
		{Key: "b", Value: StringValue("2")},
		{Key: "a", Value: StringValue("1")},
	}
	assert.True(t, sorted.Equal(unsorted.Sort()))
	assert.False(t, sorted.Equal(unsorted))
}

func TestPairsString(t *testing.T) {
	t.Parallel()

	pairs := NewPairs(
		Pair{Key: "version", Value: StringValue("v1")},
		Pair{Key: "weight", Value: NumberValue(1.5)},
	)
	assert.Equal(t, `{version="v1", weight=1.5}`, pairs.String())
}
