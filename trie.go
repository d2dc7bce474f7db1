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
	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/meta"
)

// The subset index is a trie over lexically sorted metadata: the first
// level maps a key name to its value map, each value maps to the entry
// for that (key, value) prefix, and so on for the selector's remaining
// keys. Requiring lexically sorted host and request metadata is what
// makes a subset's path canonical.

type valueSubsetMap map[meta.Value]*subsetEntry

type lbSubsetMap map[string]valueSubsetMap

// subsetEntry is one node of the subset trie. A priority subset is
// attached only if at least one host matches the full path down to this
// node.
type subsetEntry struct {
	children lbSubsetMap
	subset   *prioritySubset
}

func (e *subsetEntry) initialized() bool {
	return e.subset != nil
}

func (e *subsetEntry) active() bool {
	return e.initialized() && !e.subset.empty()
}

// findOrCreateSubset descends the trie along kvs starting at index idx,
// creating nodes as needed, and returns the leaf entry.
func findOrCreateSubset(subsets lbSubsetMap, kvs meta.Pairs, idx int) *subsetEntry {
	name := kvs[idx].Key
	value := kvs[idx].Value

	valueMap := subsets[name]
	if valueMap == nil {
		valueMap = valueSubsetMap{}
		subsets[name] = valueMap
	}
	entry := valueMap[value]
	if entry == nil {
		entry = &subsetEntry{children: lbSubsetMap{}}
		valueMap[value] = entry
	}
	if idx == len(kvs)-1 {
		return entry
	}
	return findOrCreateSubset(entry.children, kvs, idx+1)
}

// findSubset walks the trie along the given (sorted) pairs and returns
// the leaf entry, or nil when the path does not exist.
func findSubset(subsets lbSubsetMap, kvs meta.Pairs) *subsetEntry {
	current := subsets
	for i, pair := range kvs {
		valueMap, ok := current[pair.Key]
		if !ok {
			return nil
		}
		entry, ok := valueMap[pair.Value]
		if !ok {
			return nil
		}
		if i == len(kvs)-1 {
			return entry
		}
		current = entry.children
	}
	return nil
}

// forEachSubset invokes fn for every initialized entry in the trie.
func forEachSubset(subsets lbSubsetMap, fn func(entry *subsetEntry)) {
	for _, valueMap := range subsets {
		for _, entry := range valueMap {
			if entry.initialized() {
				fn(entry)
			}
		}
		for _, entry := range valueMap {
			forEachSubset(entry.children, fn)
		}
	}
}

// pruneSubsets removes entries whose last matching host is gone and that
// have no live descendants, and reports each initialized entry it
// removes. Fallback singletons live outside the trie, so pruning never
// touches a registered fallback target.
func pruneSubsets(subsets lbSubsetMap, removed func(entry *subsetEntry)) {
	for name, valueMap := range subsets {
		for value, entry := range valueMap {
			pruneSubsets(entry.children, removed)
			if len(entry.children) > 0 {
				continue
			}
			if entry.initialized() && !entry.subset.empty() {
				continue
			}
			if entry.initialized() {
				removed(entry)
			}
			delete(valueMap, value)
		}
		if len(valueMap) == 0 {
			delete(subsets, name)
		}
	}
}

// copySubsets returns a deep copy of the trie skeleton. Entries are
// copied, but the attached priority subsets are shared: their internals
// publish their own immutable snapshots.
func copySubsets(subsets lbSubsetMap) lbSubsetMap {
	if len(subsets) == 0 {
		return lbSubsetMap{}
	}
	dup := make(lbSubsetMap, len(subsets))
	for name, valueMap := range subsets {
		dupValues := make(valueSubsetMap, len(valueMap))
		for value, entry := range valueMap {
			dupValues[value] = &subsetEntry{
				children: copySubsets(entry.children),
				subset:   entry.subset,
			}
		}
		dup[name] = dupValues
	}
	return dup
}

// selectorNode is one node of the selector-key trie built from
// configuration. A fallback policy is recorded only at a node that
// terminates a selector's exact key set.
type selectorNode struct {
	children map[string]*selectorNode
	policy   FallbackPolicy
	terminal bool
}

func buildSelectorTree(selectors []Selector) *selectorNode {
	root := &selectorNode{children: map[string]*selectorNode{}}
	for _, selector := range selectors {
		node := root
		for _, key := range sortedKeys(selector.Keys) {
			child, ok := node.children[key]
			if !ok {
				child = &selectorNode{children: map[string]*selectorNode{}}
				node.children[key] = child
			}
			node = child
		}
		node.terminal = true
		node.policy = selector.Fallback
	}
	return root
}

// lookupSelector returns the fallback policy of the selector whose key
// set exactly equals the criteria's keys. A superset or subset
// relationship is not a match.
func (n *selectorNode) lookupSelector(criteria meta.Pairs) (FallbackPolicy, bool) {
	node := n
	for _, pair := range criteria {
		child, ok := node.children[pair.Key]
		if !ok {
			return FallbackNotDefined, false
		}
		node = child
	}
	if !node.terminal {
		return FallbackNotDefined, false
	}
	return node.policy, true
}

// extractSubsetMetadata builds a host's subset metadata restricted to the
// selector's (sorted) keys. A host missing any required key, or carrying
// an unsupported value for one, yields nil and is excluded from all
// subsets under that selector.
func extractSubsetMetadata(keys []string, hst host.Host) meta.Pairs {
	metadata := hst.Metadata()
	if metadata == nil {
		return nil
	}
	kvs := make(meta.Pairs, 0, len(keys))
	for _, key := range keys {
		value, ok := metadata[key]
		if !ok || !value.Valid() {
			return nil
		}
		kvs = append(kvs, meta.Pair{Key: key, Value: value})
	}
	return kvs
}

// hostMatches reports whether a host's metadata carries exactly the given
// pairs for their keys.
func hostMatches(kvs meta.Pairs, hst host.Host) bool {
	metadata := hst.Metadata()
	if metadata == nil {
		return len(kvs) == 0
	}
	for _, pair := range kvs {
		value, ok := metadata[pair.Key]
		if !ok || value != pair.Value {
			return false
		}
	}
	return true
}
