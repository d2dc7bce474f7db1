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

package host

import (
	"sync"

	"github.com/bufbuild/subsetlb/meta"
)

// SimpleHost is a plain value implementation of [Host]. Identity is
// pointer identity, so the same *SimpleHost must be used when removing a
// host that was previously added.
type SimpleHost struct {
	Addr      string
	Meta      map[string]meta.Value
	Loc       Locality
	Unhealthy bool
}

var _ Host = (*SimpleHost)(nil)

func (h *SimpleHost) Address() string                 { return h.Addr }
func (h *SimpleHost) Metadata() map[string]meta.Value { return h.Meta }
func (h *SimpleHost) Locality() Locality              { return h.Loc }
func (h *SimpleHost) Healthy() bool                   { return !h.Unhealthy }

// UpdatablePrioritySet is a concrete [PrioritySet] fed by whatever
// discovery mechanism the embedding proxy uses. Host membership is
// changed with [UpdatablePrioritySet.UpdateHosts], which notifies
// subscribers synchronously, one priority at a time.
type UpdatablePrioritySet struct {
	mu       sync.Mutex
	sets     []*updatableSet
	nextSub  int
	subs     map[int]UpdateFunc
	snapshot []Set
}

// NewPrioritySet returns an empty UpdatablePrioritySet.
func NewPrioritySet() *UpdatablePrioritySet {
	return &UpdatablePrioritySet{subs: map[int]UpdateFunc{}}
}

// HostSets implements [PrioritySet].
func (p *UpdatablePrioritySet) HostSets() []Set {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Subscribe implements [PrioritySet].
func (p *UpdatablePrioritySet) Subscribe(fn UpdateFunc) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	return &subscription{set: p, id: id}
}

// UpdateHosts applies an added/removed delta to the given priority level,
// creating the level (and any lower-numbered empty levels) on first use,
// and then notifies subscribers. Hosts in added that are already members,
// and hosts in removed that are not, are ignored.
func (p *UpdatablePrioritySet) UpdateHosts(priority int, added, removed []Host) {
	p.mu.Lock()
	set := p.getOrCreateLocked(priority)
	added, removed = set.apply(added, removed)
	p.snapshot = p.snapshotLocked()
	subs := make([]UpdateFunc, 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}
	for _, fn := range subs {
		fn(priority, added, removed)
	}
}

// SetLocalityWeights configures the per-locality weights of a priority
// level. It does not notify subscribers; weights are read on the next
// membership update.
func (p *UpdatablePrioritySet) SetLocalityWeights(priority int, weights map[Locality]uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.getOrCreateLocked(priority)
	set.localityWeights = weights
	p.snapshot = p.snapshotLocked()
}

// SetOverprovisioningFactor configures the overprovisioning factor of a
// priority level, in percent.
func (p *UpdatablePrioritySet) SetOverprovisioningFactor(priority int, factor uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.getOrCreateLocked(priority)
	set.overprovisioning = factor
	p.snapshot = p.snapshotLocked()
}

// +checklocks:p.mu
func (p *UpdatablePrioritySet) getOrCreateLocked(priority int) *updatableSet {
	for len(p.sets) <= priority {
		p.sets = append(p.sets, &updatableSet{
			priority:         len(p.sets),
			overprovisioning: DefaultOverprovisioningFactor,
		})
	}
	return p.sets[priority]
}

// +checklocks:p.mu
func (p *UpdatablePrioritySet) snapshotLocked() []Set {
	snapshot := make([]Set, len(p.sets))
	for i, set := range p.sets {
		snapshot[i] = set.freeze()
	}
	return snapshot
}

type subscription struct {
	set  *UpdatablePrioritySet
	id   int
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.set.mu.Lock()
		defer s.set.mu.Unlock()
		delete(s.set.subs, s.id)
	})
	return nil
}

type updatableSet struct {
	priority         int
	hosts            []Host
	members          map[Host]struct{}
	localityWeights  map[Locality]uint32
	overprovisioning uint32
}

func (s *updatableSet) apply(added, removed []Host) (effAdded, effRemoved []Host) {
	if s.members == nil {
		s.members = map[Host]struct{}{}
	}
	removeSet := make(map[Host]struct{}, len(removed))
	for _, h := range removed {
		if _, ok := s.members[h]; ok {
			removeSet[h] = struct{}{}
			effRemoved = append(effRemoved, h)
		}
	}
	next := make([]Host, 0, len(s.hosts)+len(added))
	for _, h := range s.hosts {
		if _, ok := removeSet[h]; ok {
			delete(s.members, h)
			continue
		}
		next = append(next, h)
	}
	for _, h := range added {
		if _, ok := s.members[h]; ok {
			continue
		}
		s.members[h] = struct{}{}
		next = append(next, h)
		effAdded = append(effAdded, h)
	}
	s.hosts = next
	return effAdded, effRemoved
}

// freeze returns an immutable snapshot of the set.
func (s *updatableSet) freeze() Set {
	hosts := make([]Host, len(s.hosts))
	copy(hosts, s.hosts)
	healthy := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if h.Healthy() {
			healthy = append(healthy, h)
		}
	}
	var weights map[Locality]uint32
	if s.localityWeights != nil {
		weights = make(map[Locality]uint32, len(s.localityWeights))
		for loc, w := range s.localityWeights {
			weights[loc] = w
		}
	}
	return &frozenSet{
		priority:         s.priority,
		hosts:            hosts,
		healthy:          healthy,
		localityWeights:  weights,
		overprovisioning: s.overprovisioning,
	}
}

type frozenSet struct {
	priority         int
	hosts            []Host
	healthy          []Host
	localityWeights  map[Locality]uint32
	overprovisioning uint32
}

func (s *frozenSet) Priority() int                        { return s.priority }
func (s *frozenSet) Hosts() []Host                        { return s.hosts }
func (s *frozenSet) HealthyHosts() []Host                 { return s.healthy }
func (s *frozenSet) LocalityWeights() map[Locality]uint32 { return s.localityWeights }
func (s *frozenSet) OverprovisioningFactor() uint32       { return s.overprovisioning }
