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
	"math"
	"sync/atomic"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/picker"
)

type hostPredicate func(host.Host) bool

// hostList is the immutable per-priority snapshot published by a
// hostSubset. A new snapshot replaces the previous one wholesale; request
// path readers never observe a partially built one.
type hostList struct {
	hosts   []host.Host
	healthy []host.Host
	// effective is what the delegate picker balances over: healthy, or
	// all hosts when the healthy fraction is below the panic threshold.
	effective []host.Host
	panicked  bool
	// localityWeights is the subset's derived per-locality weight vector;
	// nil unless locality weighting is enabled and the original set
	// carries weights.
	localityWeights        map[host.Locality]uint32
	overprovisioningFactor uint32
}

// hostSubset is the per-priority filtered view of the original host set
// restricted to hosts matching a predicate. Mutated only on the
// serialized update path; the request path reads the published snapshot.
type hostSubset struct {
	priority int
	list     atomic.Pointer[hostList]
	// members is writer-only state.
	members map[host.Host]struct{}
}

func newHostSubset(priority int) *hostSubset {
	subset := &hostSubset{
		priority: priority,
		members:  map[host.Host]struct{}{},
	}
	subset.list.Store(&hostList{})
	return subset
}

// update applies the delta and republishes the snapshot. Only hosts
// satisfying the predicate join; removal is by membership regardless of
// predicate, so a host leaving the original set always leaves the subset.
// Returns whether membership changed.
func (s *hostSubset) update(
	original host.Set,
	added, removed []host.Host,
	predicate hostPredicate,
	cfg *subsetConfig,
) bool {
	changed := false
	for _, hst := range removed {
		if _, ok := s.members[hst]; ok {
			delete(s.members, hst)
			changed = true
		}
	}
	for _, hst := range added {
		if _, ok := s.members[hst]; ok {
			continue
		}
		if !predicate(hst) {
			continue
		}
		s.members[hst] = struct{}{}
		changed = true
	}
	if !changed {
		return false
	}

	// Preserve the original set's host order so the subset's view is
	// deterministic regardless of delta arrival order.
	hosts := make([]host.Host, 0, len(s.members))
	for _, hst := range original.Hosts() {
		if _, ok := s.members[hst]; ok {
			hosts = append(hosts, hst)
		}
	}
	healthy := make([]host.Host, 0, len(hosts))
	for _, hst := range hosts {
		if hst.Healthy() {
			healthy = append(healthy, hst)
		}
	}
	effective, panicked := healthy, false
	if len(hosts) > 0 && cfg.panicThreshold >= 0 &&
		float64(len(healthy))/float64(len(hosts)) < cfg.panicThreshold {
		effective, panicked = hosts, true
	}
	next := &hostList{
		hosts:                  hosts,
		healthy:                healthy,
		effective:              effective,
		panicked:               panicked,
		localityWeights:        s.determineLocalityWeights(original, hosts, cfg),
		overprovisioningFactor: original.OverprovisioningFactor(),
	}
	s.list.Store(next)
	return true
}

// determineLocalityWeights derives the subset's per-locality weights from
// the original set's weights, scaled by the subset's share of each
// locality's hosts. A locality absent from the subset contributes zero
// weight.
func (s *hostSubset) determineLocalityWeights(
	original host.Set,
	subsetHosts []host.Host,
	cfg *subsetConfig,
) map[host.Locality]uint32 {
	if !cfg.localityWeightAware {
		return nil
	}
	originalWeights := original.LocalityWeights()
	if originalWeights == nil {
		return nil
	}
	if !cfg.scaleLocalityWeight {
		weights := make(map[host.Locality]uint32, len(originalWeights))
		for loc, weight := range originalWeights {
			weights[loc] = weight
		}
		return weights
	}
	originalCounts := map[host.Locality]int{}
	for _, hst := range original.Hosts() {
		originalCounts[hst.Locality()]++
	}
	subsetCounts := map[host.Locality]int{}
	for _, hst := range subsetHosts {
		subsetCounts[hst.Locality()]++
	}
	weights := make(map[host.Locality]uint32, len(subsetCounts))
	for loc, count := range subsetCounts {
		total := originalCounts[loc]
		if total == 0 {
			continue
		}
		scaled := float64(originalWeights[loc]) * float64(count) / float64(total)
		weights[loc] = uint32(math.Round(scaled))
	}
	return weights
}

// subsetConfig is the slice of balancer configuration the subset
// machinery needs.
type subsetConfig struct {
	factory             picker.Factory
	localityWeightAware bool
	scaleLocalityWeight bool
	panicThreshold      float64
}

// subsetLevel pairs one priority's hostSubset with its delegate picker.
// The picker is rebuilt through the factory, never mutated, whenever the
// effective host list changes.
type subsetLevel struct {
	subset *hostSubset
	pick   atomic.Pointer[picker.Picker]
}

func newSubsetLevel(priority int) *subsetLevel {
	level := &subsetLevel{subset: newHostSubset(priority)}
	empty := picker.ErrorPicker(picker.ErrNoHosts)
	level.pick.Store(&empty)
	return level
}

// prioritySubset is the full per-priority structure of one subset: all
// priority levels plus the delegate load balancer scoped to the subset's
// current hosts.
type prioritySubset struct {
	predicate hostPredicate
	cfg       *subsetConfig
	levels    atomic.Pointer[[]*subsetLevel]
	emptyFlag atomic.Bool
}

func newPrioritySubset(predicate hostPredicate, cfg *subsetConfig) *prioritySubset {
	subset := &prioritySubset{predicate: predicate, cfg: cfg}
	levels := []*subsetLevel{}
	subset.levels.Store(&levels)
	subset.emptyFlag.Store(true)
	return subset
}

func (p *prioritySubset) empty() bool {
	return p.emptyFlag.Load()
}

// update applies a topology delta for one priority level. Returns whether
// the subset's membership changed at that level.
func (p *prioritySubset) update(priority int, original host.Set, added, removed []host.Host) bool {
	level := p.getOrCreateLevel(priority)
	if !level.subset.update(original, added, removed, p.predicate, p.cfg) {
		return false
	}
	list := level.subset.list.Load()
	next := picker.ErrorPicker(picker.ErrNoHosts)
	if len(list.effective) > 0 {
		next = p.cfg.factory.New(*level.pick.Load(), picker.HostsFromSlice(list.effective))
	}
	level.pick.Store(&next)

	empty := true
	for _, lvl := range *p.levels.Load() {
		if len(lvl.subset.list.Load().hosts) > 0 {
			empty = false
			break
		}
	}
	p.emptyFlag.Store(empty)
	return true
}

func (p *prioritySubset) getOrCreateLevel(priority int) *subsetLevel {
	levels := *p.levels.Load()
	if priority < len(levels) {
		return levels[priority]
	}
	// Grow by publishing a new slice; existing level pointers are shared
	// with concurrent readers of the old slice.
	grown := make([]*subsetLevel, priority+1)
	copy(grown, levels)
	for i := len(levels); i <= priority; i++ {
		grown[i] = newSubsetLevel(i)
	}
	p.levels.Store(&grown)
	return grown[priority]
}

// pick chooses the serving priority level and delegates to its picker.
// Levels are tried in three passes: fully available (healthy hosts cover
// the level's load given its overprovisioning factor), then any healthy
// hosts, then any effective hosts (panic mode). The reported panicked
// flag feeds the panic selection counter.
func (p *prioritySubset) pick(req picker.Request) (picked host.Host, whenDone func(), panicked bool, err error) {
	levels := *p.levels.Load()
	var firstHealthy, firstEffective *subsetLevel
	var firstEffectivePanicked bool
	for _, level := range levels {
		list := level.subset.list.Load()
		if len(list.hosts) == 0 {
			continue
		}
		if firstEffective == nil && len(list.effective) > 0 {
			firstEffective, firstEffectivePanicked = level, list.panicked
		}
		if len(list.healthy) == 0 {
			continue
		}
		if firstHealthy == nil {
			firstHealthy = level
		}
		availability := uint64(len(list.healthy)) * uint64(list.overprovisioningFactor)
		if availability >= uint64(len(list.hosts))*100 {
			picked, whenDone, err = (*level.pick.Load()).Pick(req)
			return picked, whenDone, list.panicked, err
		}
	}
	if firstHealthy != nil {
		picked, whenDone, err = (*firstHealthy.pick.Load()).Pick(req)
		return picked, whenDone, firstHealthy.subset.list.Load().panicked, err
	}
	if firstEffective != nil {
		picked, whenDone, err = (*firstEffective.pick.Load()).Pick(req)
		return picked, whenDone, firstEffectivePanicked, err
	}
	return nil, nil, false, picker.ErrNoHosts
}
