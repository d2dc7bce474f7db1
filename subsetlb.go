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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/meta"
	"github.com/bufbuild/subsetlb/picker"
	"github.com/sirupsen/logrus"
)

// ErrNoAvailableHost is returned by [SubsetLoadBalancer.PickHost] when
// every step of the fallback chain was exhausted without a non-empty
// candidate set. It is an expected outcome, not a failure of the
// balancer; callers apply their own retry or failover policy.
var ErrNoAvailableHost = errors.New("no available host")

// Request is one selection request.
type Request struct {
	// MatchCriteria are the metadata pairs the request's routing
	// configuration designates as subset keys. Empty criteria, or
	// criteria whose key set matches no configured selector, are served
	// per the balancer-wide fallback policy.
	MatchCriteria meta.Pairs
	// HashKey is passed through to the delegate picker for hash-based
	// algorithms.
	HashKey string
}

// SubsetLoadBalancer selects, for each request, an upstream host from a
// cluster whose hosts are partitioned into subsets by metadata. It keeps
// a trie of subsets synchronized with the cluster's live topology and
// delegates the final pick to a per-subset load balancer built by the
// configured picker factory.
//
// Topology updates are delivered serialized through the PrioritySet
// subscription; PickHost may be called concurrently from any number of
// goroutines and never blocks on an update.
type SubsetLoadBalancer struct {
	policy        FallbackPolicy
	defaultSubset meta.Pairs
	selectorKeys  [][]string
	selectorTree  *selectorNode
	cfg           subsetConfig
	stats         Stats
	logger        logrus.FieldLogger

	original     host.PrioritySet
	subscription host.Subscription
	closeOnce    sync.Once

	// fallbackSubset serves the defaultSubset policy; anySubset serves
	// the anyEndpoint policy. Each is a singleton shared by the top-level
	// policy and every selector configured with the matching fallback.
	fallbackSubset *prioritySubset
	anySubset      *prioritySubset

	// subsets is the writer-owned trie, mutated only on the serialized
	// update path. snapshot is the immutable copy the request path reads.
	subsets  lbSubsetMap
	snapshot atomic.Pointer[lbSubsetMap]
}

// New builds a subset load balancer over the given topology. The current
// host membership is indexed immediately and a change subscription is
// registered; callers must Close the balancer to release it.
func New(original host.PrioritySet, config Config) (*SubsetLoadBalancer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("subsetlb: invalid configuration: %w", err)
	}
	factory := config.Picker
	if factory == nil {
		factory = picker.RoundRobinFactory
	}
	stats := config.Stats
	if stats == nil {
		stats = NopStats
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	panicThreshold := config.PanicThreshold
	if panicThreshold == 0 {
		panicThreshold = DefaultPanicThreshold
	}

	balancer := &SubsetLoadBalancer{
		policy:        config.Fallback,
		defaultSubset: config.DefaultSubset.Sort(),
		selectorTree:  buildSelectorTree(config.Selectors),
		cfg: subsetConfig{
			factory:             factory,
			localityWeightAware: config.LocalityWeightAware,
			scaleLocalityWeight: config.ScaleLocalityWeight,
			panicThreshold:      panicThreshold,
		},
		stats:    stats,
		logger:   logger,
		original: original,
		subsets:  lbSubsetMap{},
	}
	for _, selector := range config.Selectors {
		balancer.selectorKeys = append(balancer.selectorKeys, sortedKeys(selector.Keys))
	}

	needAny := config.Fallback == FallbackAnyEndpoint
	needDefault := config.Fallback == FallbackDefaultSubset
	for _, selector := range config.Selectors {
		switch selector.Fallback {
		case FallbackAnyEndpoint:
			needAny = true
		case FallbackDefaultSubset:
			needDefault = true
		}
	}
	if needAny {
		balancer.anySubset = newPrioritySubset(func(host.Host) bool { return true }, &balancer.cfg)
	}
	if needDefault {
		defaultMetadata := balancer.defaultSubset
		balancer.fallbackSubset = newPrioritySubset(func(hst host.Host) bool {
			return hostMatches(defaultMetadata, hst)
		}, &balancer.cfg)
	}

	empty := lbSubsetMap{}
	balancer.snapshot.Store(&empty)

	// Index whatever topology already exists; the subscription delivers
	// everything from here on.
	for _, set := range original.HostSets() {
		balancer.update(set.Priority(), set.Hosts(), nil)
	}
	balancer.subscription = original.Subscribe(balancer.update)
	return balancer, nil
}

// Close deregisters the topology subscription. It is idempotent.
func (b *SubsetLoadBalancer) Close() error {
	b.closeOnce.Do(func() {
		if b.subscription != nil {
			_ = b.subscription.Close()
		}
	})
	return nil
}

// update incorporates one priority level's membership delta. It runs on
// the serialized update path: it refreshes the fallback singletons,
// applies the delta to every affected trie entry (creating entries
// lazily), prunes entries whose last host went away, and publishes the
// new trie snapshot for the request path.
func (b *SubsetLoadBalancer) update(priority int, added, removed []host.Host) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	sets := b.original.HostSets()
	if priority >= len(sets) {
		return
	}
	original := sets[priority]

	b.updateFallbackSubset(priority, original, added, removed)

	for _, keys := range b.selectorKeys {
		byEntry := map[*subsetEntry]*entryDelta{}
		order := []*subsetEntry{}
		for _, hst := range added {
			kvs := extractSubsetMetadata(keys, hst)
			if len(kvs) == 0 {
				continue
			}
			entry := findOrCreateSubset(b.subsets, kvs, 0)
			if !entry.initialized() {
				b.logger.Debugf("creating subset %s", kvs)
				entry.subset = newPrioritySubset(b.predicateFor(kvs), &b.cfg)
				b.stats.SubsetCreated()
			}
			delta := byEntry[entry]
			if delta == nil {
				delta = &entryDelta{}
				byEntry[entry] = delta
				order = append(order, entry)
			}
			delta.added = append(delta.added, hst)
		}
		for _, hst := range removed {
			kvs := extractSubsetMetadata(keys, hst)
			if len(kvs) == 0 {
				continue
			}
			entry := findSubset(b.subsets, kvs)
			if entry == nil || !entry.initialized() {
				continue
			}
			delta := byEntry[entry]
			if delta == nil {
				delta = &entryDelta{}
				byEntry[entry] = delta
				order = append(order, entry)
			}
			delta.removed = append(delta.removed, hst)
		}
		for _, entry := range order {
			delta := byEntry[entry]
			wasActive := entry.active()
			if entry.subset.update(priority, original, delta.added, delta.removed) &&
				wasActive != entry.active() {
				b.logger.Debugf("subset active=%t", entry.active())
			}
		}
	}

	pruned := 0
	pruneSubsets(b.subsets, func(*subsetEntry) {
		pruned++
		b.stats.SubsetRemoved()
	})
	if pruned > 0 {
		b.logger.Debugf("removed %d empty subsets", pruned)
	}

	active := 0
	forEachSubset(b.subsets, func(entry *subsetEntry) {
		if entry.active() {
			active++
		}
	})
	b.stats.SetActiveSubsets(active)

	snapshot := copySubsets(b.subsets)
	b.snapshot.Store(&snapshot)
}

type entryDelta struct {
	added   []host.Host
	removed []host.Host
}

func (b *SubsetLoadBalancer) predicateFor(kvs meta.Pairs) hostPredicate {
	return func(hst host.Host) bool {
		return hostMatches(kvs, hst)
	}
}

// updateFallbackSubset keeps the shared fallback singletons synchronized
// with the host population; they are themselves subsets, just held
// outside the trie.
func (b *SubsetLoadBalancer) updateFallbackSubset(priority int, original host.Set, added, removed []host.Host) {
	if b.anySubset != nil {
		b.anySubset.update(priority, original, added, removed)
	}
	if b.fallbackSubset != nil {
		b.fallbackSubset.update(priority, original, added, removed)
	}
}

// PickHost selects a host for the request, or returns
// [ErrNoAvailableHost] when the fallback chain is exhausted. The
// returned whenDone callback, if non-nil, must be invoked when the
// operation completes.
//
// Resolution order: an exact, active subset for the request's criteria;
// otherwise the matching selector's fallback policy; otherwise (no
// criteria, or no selector with that exact key set) the balancer-wide
// fallback policy.
func (b *SubsetLoadBalancer) PickHost(req Request) (host.Host, func(), error) {
	criteria := req.MatchCriteria.Sort()
	if len(criteria) > 0 {
		if policy, ok := b.selectorTree.lookupSelector(criteria); ok {
			entry := findSubset(*b.snapshot.Load(), criteria)
			if entry != nil && entry.active() {
				return b.pickFrom(entry.subset, req, SelectionExact)
			}
			return b.applyFallback(policy, req, true)
		}
	}
	return b.applyFallback(b.policy, req, false)
}

func (b *SubsetLoadBalancer) applyFallback(policy FallbackPolicy, req Request, selectorLevel bool) (host.Host, func(), error) {
	if selectorLevel && policy == FallbackNotDefined {
		// The selector defers to the balancer-wide policy, but the
		// selection is still attributed to the selector.
		policy = b.policy
	}
	switch policy {
	case FallbackAnyEndpoint:
		result := SelectionFallbackAny
		if selectorLevel {
			result = SelectionSelectorFallbackAny
		}
		return b.pickFrom(b.anySubset, req, result)
	case FallbackDefaultSubset:
		result := SelectionFallbackDefault
		if selectorLevel {
			result = SelectionSelectorFallbackDefault
		}
		return b.pickFrom(b.fallbackSubset, req, result)
	default:
		b.stats.Selection(SelectionNone)
		return nil, nil, ErrNoAvailableHost
	}
}

func (b *SubsetLoadBalancer) pickFrom(subset *prioritySubset, req Request, result SelectionResult) (host.Host, func(), error) {
	if subset == nil {
		b.stats.Selection(SelectionNone)
		return nil, nil, ErrNoAvailableHost
	}
	picked, whenDone, panicked, err := subset.pick(picker.Request{HashKey: req.HashKey})
	if err != nil {
		b.stats.Selection(SelectionNone)
		return nil, nil, ErrNoAvailableHost
	}
	b.stats.Selection(result)
	if panicked {
		b.stats.Selection(SelectionPanic)
	}
	return picked, whenDone, nil
}
