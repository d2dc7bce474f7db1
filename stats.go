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

// SelectionResult categorizes how a selection was served. Watching the
// fallback categories is the way to detect subset-configuration drift or
// fallback-chain thrashing.
type SelectionResult int

const (
	// SelectionExact: the request's criteria matched an active subset.
	SelectionExact SelectionResult = iota
	// SelectionSelectorFallbackAny: a selector matched but its subset was
	// missing or empty; served over all hosts per the selector's policy.
	SelectionSelectorFallbackAny
	// SelectionSelectorFallbackDefault: as above, served over the default
	// subset.
	SelectionSelectorFallbackDefault
	// SelectionFallbackAny: no selector matched; served over all hosts
	// per the balancer-wide policy.
	SelectionFallbackAny
	// SelectionFallbackDefault: no selector matched; served over the
	// default subset per the balancer-wide policy.
	SelectionFallbackDefault
	// SelectionPanic: the serving subset was below the panic threshold
	// and balanced over its unfiltered hosts. Reported in addition to one
	// of the categories above.
	SelectionPanic
	// SelectionNone: every fallback step was exhausted without a host.
	SelectionNone
)

// String returns the metrics-friendly name of the result.
func (r SelectionResult) String() string {
	switch r {
	case SelectionExact:
		return "exact"
	case SelectionSelectorFallbackAny:
		return "selector_fallback_any"
	case SelectionSelectorFallbackDefault:
		return "selector_fallback_default"
	case SelectionFallbackAny:
		return "fallback_any"
	case SelectionFallbackDefault:
		return "fallback_default"
	case SelectionPanic:
		return "panic"
	case SelectionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Stats receives counters from the balancer. Implementations must be
// safe for concurrent use; Selection is called on the request path and
// must be cheap.
type Stats interface {
	// SubsetCreated is called when a subset trie entry gains hosts for
	// the first time.
	SubsetCreated()
	// SubsetRemoved is called when an entry's last host is removed and
	// the entry is pruned.
	SubsetRemoved()
	// SetActiveSubsets reports the number of active subsets after a
	// topology update.
	SetActiveSubsets(count int)
	// Selection is called once per served selection with its category,
	// and additionally with SelectionPanic when the delegate balanced
	// over unfiltered hosts.
	Selection(result SelectionResult)
}

// NopStats discards all counters.
//
//nolint:gochecknoglobals
var NopStats Stats = nopStats{}

type nopStats struct{}

func (nopStats) SubsetCreated()            {}
func (nopStats) SubsetRemoved()            {}
func (nopStats) SetActiveSubsets(int)      {}
func (nopStats) Selection(SelectionResult) {}
