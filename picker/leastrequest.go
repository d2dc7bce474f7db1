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

package picker

import (
	"container/heap"
	"math/bits"
	"math/rand"
	"sync"

	"github.com/bufbuild/subsetlb/host"
)

//nolint:gochecknoglobals
var (
	// LeastRequestRoundRobinFactory creates pickers that pick the host
	// with the fewest in-flight requests. When a tie occurs, tied hosts
	// will be picked in an arbitrary but sequential order.
	LeastRequestRoundRobinFactory Factory = FactoryFunc(newLeastRequestRoundRobin)

	// LeastRequestRandomFactory creates pickers that pick the host with
	// the fewest in-flight requests. When a tie occurs, tied hosts will
	// be picked at random.
	LeastRequestRandomFactory Factory = FactoryFunc(newLeastRequestRandom)
)

func newLeastRequestRoundRobin(prev Picker, allHosts Hosts) Picker {
	if allHosts.Len() == 0 {
		return ErrorPicker(ErrNoHosts)
	}
	if prev, ok := prev.(*leastRequestRoundRobin); ok {
		prev.mu.Lock()
		defer prev.mu.Unlock()

		prev.hosts.update(allHosts)
		return prev
	}

	return &leastRequestRoundRobin{
		leastRequestBase: leastRequestBase{
			hosts: newHostHeap(allHosts),
		},
	}
}

func newLeastRequestRandom(prev Picker, allHosts Hosts) Picker {
	if allHosts.Len() == 0 {
		return ErrorPicker(ErrNoHosts)
	}
	if prev, ok := prev.(*leastRequestRandom); ok {
		prev.mu.Lock()
		defer prev.mu.Unlock()

		prev.hosts.update(allHosts)
		return prev
	}

	return &leastRequestRandom{
		leastRequestBase: leastRequestBase{
			hosts: newHostHeap(allHosts),
		},
	}
}

type leastRequestBase struct {
	mu sync.Mutex
	// +checklocks:mu
	hosts *leastRequestHostHeap
}

type leastRequestRoundRobin struct {
	leastRequestBase
	// +checklocks:mu
	counter uint64
}

type leastRequestRandom struct {
	leastRequestBase
}

//nolint:recvcheck // mix of pointer and non-pointer receiver methods is intentional
type leastRequestHostHeap []*leastRequestHostItem

type leastRequestHostItem struct {
	host     host.Host
	load     uint64
	tieBreak uint64
	index    int
}

// +checklocks:p.mu
func (p *leastRequestBase) pickLocked(nextTieBreak uint64) (host.Host, func(), error) { //nolint:unparam
	entry := p.hosts.acquire(nextTieBreak)
	return entry.host,
		func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.hosts.release(entry)
		},
		nil
}

func (p *leastRequestRoundRobin) Pick(Request) (host.Host, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counter++
	return p.leastRequestBase.pickLocked(p.counter)
}

func (p *leastRequestRandom) Pick(Request) (host.Host, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.leastRequestBase.pickLocked(rand.Uint64()) //nolint:gosec // don't need crypto/rand here
}

func newHostHeap(allHosts Hosts) *leastRequestHostHeap {
	newHosts := make([]*leastRequestHostItem, allHosts.Len())
	newHeap := leastRequestHostHeap(newHosts)
	for i := range newHosts {
		newHosts[i] = &leastRequestHostItem{
			host:  allHosts.Get(i),
			index: i,
		}
	}
	heap.Init(&newHeap)
	return &newHeap
}

func (h *leastRequestHostHeap) update(allHosts Hosts) {
	newMap := map[host.Host]struct{}{}
	for i, l := 0, allHosts.Len(); i < l; i++ {
		newMap[allHosts.Get(i)] = struct{}{}
	}
	j := 0 //nolint:varnamelen
	slice := *h
	// Remove items from slice that aren't in the new set of hosts,
	// compacting the slice as we go.
	for i, item := range slice {
		if _, ok := newMap[item.host]; ok {
			delete(newMap, item.host)
			if i != j {
				item.index = j
				(*h)[j] = item
			}
			j++
		} else {
			// If there are pending ops with this one, make sure it
			// knows it's been evicted.
			item.index = -1
		}
	}
	newLen := j + len(newMap)
	if j == len(slice) {
		// No items removed, so we haven't broken any heap invariants.
		// If we don't have too many items to add, just heap.Push them
		// and return.
		threshold := newLen / bits.Len(uint(newLen))
		// Push is O(log n). Init (aka heapify) is O(n). So threshold
		// is (n / log n). If there are more items than that, it's
		// better to fall through below and re-init.
		if len(newMap) <= threshold {
			for hst := range newMap {
				h.Push(&leastRequestHostItem{host: hst})
			}
			return
		}
	} else if len(slice) > newLen {
		// Make sure we don't leak memory with dangling pointers
		// in unused regions of the slice.
		for i := range slice[newLen:] {
			slice[newLen+i] = nil
		}
	}
	// Now add remaining new hosts.
	slice = slice[:j]
	for hst := range newMap {
		slice = append(slice, &leastRequestHostItem{host: hst, index: len(slice)})
	}
	*h = slice
	// Re-heapify
	heap.Init(h)
}

func (h *leastRequestHostHeap) acquire(nextTieBreak uint64) *leastRequestHostItem {
	entry := (*h)[0]
	entry.load++
	entry.tieBreak = nextTieBreak
	heap.Fix(h, entry.index)
	return entry
}

func (h *leastRequestHostHeap) release(entry *leastRequestHostItem) {
	entry.load--
	if entry.index != -1 {
		heap.Fix(h, entry.index)
	}
}

func (h leastRequestHostHeap) Len() int { return len(h) }

func (h leastRequestHostHeap) Less(i, j int) bool {
	if h[i].load == h[j].load {
		return h[i].tieBreak < h[j].tieBreak
	}
	return h[i].load < h[j].load
}

func (h leastRequestHostHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *leastRequestHostHeap) Push(x any) {
	n := len(*h)
	item := x.(*leastRequestHostItem) //nolint:forcetypeassert,errcheck
	item.index = n
	*h = append(*h, item)
}

func (h *leastRequestHostHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
