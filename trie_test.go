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

package subsetlb

import (
	"testing"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairsOf(kvs ...string) meta.Pairs {
	pairs := make(meta.Pairs, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		pairs = append(pairs, meta.Pair{Key: kvs[i], Value: meta.StringValue(kvs[i+1])})
	}
	return pairs
}

func TestFindOrCreateSubset(t *testing.T) {
	t.Parallel()
	subsets := lbSubsetMap{}
	path := pairsOf("stage", "prod", "version", "v1")

	entry := findOrCreateSubset(subsets, path, 0)
	require.NotNil(t, entry)
	assert.False(t, entry.initialized())
	assert.False(t, entry.active())

	// The same path resolves to the same entry.
	assert.Same(t, entry, findOrCreateSubset(subsets, path, 0))
	assert.Same(t, entry, findSubset(subsets, path))

	// Sibling and prefix paths are distinct entries.
	sibling := findOrCreateSubset(subsets, pairsOf("stage", "prod", "version", "v2"), 0)
	assert.NotSame(t, entry, sibling)
	prefix := findOrCreateSubset(subsets, pairsOf("stage", "prod"), 0)
	assert.NotSame(t, entry, prefix)
	assert.Same(t, entry, findSubset(prefix.children, pairsOf("version", "v1")))

	// Missing paths are not created by lookup.
	assert.Nil(t, findSubset(subsets, pairsOf("stage", "dev")))
	assert.Nil(t, findSubset(subsets, pairsOf("region", "east")))
}

func TestPruneSubsets(t *testing.T) {
	t.Parallel()
	prioritySet := host.NewPrioritySet()
	hst := versionHost("1.1.1.1:80", "v1")
	prioritySet.UpdateHosts(0, []host.Host{hst}, nil)
	original := prioritySet.HostSets()[0]

	subsets := lbSubsetMap{}
	live := findOrCreateSubset(subsets, pairsOf("version", "v1"), 0)
	live.subset = newPrioritySubset(matchAll, defaultSubsetConfig())
	live.subset.update(0, original, []host.Host{hst}, nil)
	empty := findOrCreateSubset(subsets, pairsOf("version", "v2"), 0)
	empty.subset = newPrioritySubset(matchAll, defaultSubsetConfig())
	findOrCreateSubset(subsets, pairsOf("stage", "prod", "version", "v3"), 0)

	var removed []*subsetEntry
	pruneSubsets(subsets, func(entry *subsetEntry) {
		removed = append(removed, entry)
	})

	// Only the initialized empty entry is reported; the uninitialized
	// branch is dropped silently, and the live entry survives.
	require.Len(t, removed, 1)
	assert.Same(t, empty, removed[0])
	assert.Same(t, live, findSubset(subsets, pairsOf("version", "v1")))
	assert.Nil(t, findSubset(subsets, pairsOf("version", "v2")))
	assert.Nil(t, findSubset(subsets, pairsOf("stage", "prod", "version", "v3")))
	_, ok := subsets["stage"]
	assert.False(t, ok)
}

func TestCopySubsets(t *testing.T) {
	t.Parallel()
	subsets := lbSubsetMap{}
	entry := findOrCreateSubset(subsets, pairsOf("stage", "prod", "version", "v1"), 0)
	entry.subset = newPrioritySubset(matchAll, defaultSubsetConfig())

	dup := copySubsets(subsets)
	dupEntry := findSubset(dup, pairsOf("stage", "prod", "version", "v1"))
	require.NotNil(t, dupEntry)
	assert.NotSame(t, entry, dupEntry)
	assert.Same(t, entry.subset, dupEntry.subset)

	// Mutating the source does not affect the copy.
	findOrCreateSubset(subsets, pairsOf("stage", "dev"), 0)
	assert.Nil(t, findSubset(dup, pairsOf("stage", "dev")))
}

func TestSelectorTree(t *testing.T) {
	t.Parallel()
	tree := buildSelectorTree([]Selector{
		{Keys: []string{"version"}, Fallback: FallbackAnyEndpoint},
		{Keys: []string{"version", "stage"}, Fallback: FallbackNone},
		{Keys: []string{"region", "stage", "version"}},
	})

	policy, ok := tree.lookupSelector(pairsOf("version", "v1"))
	require.True(t, ok)
	assert.Equal(t, FallbackAnyEndpoint, policy)

	policy, ok = tree.lookupSelector(pairsOf("stage", "prod", "version", "v1"))
	require.True(t, ok)
	assert.Equal(t, FallbackNone, policy)

	policy, ok = tree.lookupSelector(pairsOf("region", "east", "stage", "prod", "version", "v1"))
	require.True(t, ok)
	assert.Equal(t, FallbackNotDefined, policy)

	// Subsets and supersets of a configured key set do not match.
	_, ok = tree.lookupSelector(pairsOf("stage", "prod"))
	assert.False(t, ok)
	_, ok = tree.lookupSelector(pairsOf("region", "east", "version", "v1"))
	assert.False(t, ok)
	_, ok = tree.lookupSelector(nil)
	assert.False(t, ok)
}

func TestExtractSubsetMetadata(t *testing.T) {
	t.Parallel()
	hst := newTestHost("1.1.1.1:80", map[string]meta.Value{
		"version": meta.StringValue("v1"),
		"stage":   meta.StringValue("prod"),
	})

	kvs := extractSubsetMetadata([]string{"stage", "version"}, hst)
	assert.Equal(t, pairsOf("stage", "prod", "version", "v1"), kvs)

	// A missing key excludes the host entirely.
	assert.Nil(t, extractSubsetMetadata([]string{"region", "version"}, hst))
	assert.Nil(t, extractSubsetMetadata([]string{"version"}, newTestHost("2.2.2.2:80", nil)))
}

func TestHostMatches(t *testing.T) {
	t.Parallel()
	hst := newTestHost("1.1.1.1:80", map[string]meta.Value{
		"version": meta.StringValue("v1"),
		"stage":   meta.StringValue("prod"),
	})
	assert.True(t, hostMatches(pairsOf("version", "v1"), hst))
	assert.True(t, hostMatches(pairsOf("stage", "prod", "version", "v1"), hst))
	assert.False(t, hostMatches(pairsOf("version", "v2"), hst))
	assert.False(t, hostMatches(pairsOf("region", "east"), hst))
	assert.True(t, hostMatches(nil, hst))
	assert.False(t, hostMatches(pairsOf("version", "v1"), newTestHost("2.2.2.2:80", nil)))
}
