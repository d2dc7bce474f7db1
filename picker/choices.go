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
	"math/rand"
	"sync/atomic"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/internal"
)

// LeastRequestConfig configures the N-random-choices least-request
// algorithm created by [NewLeastRequest].
type LeastRequestConfig struct {
	// ChoiceCount is the number of hosts sampled per pick. Values below
	// two are treated as two.
	ChoiceCount int
}

// NewLeastRequest creates a factory for pickers that sample ChoiceCount
// hosts at random and pick the one with the fewest in-flight requests.
// With the default of two choices this takes advantage of the
// [power of two random choices], which provides substantial benefits
// over a simple random picker and, unlike the heap-based least-request
// policy, doesn't need a mutex-guarded heap.
//
// [power of two random choices]: http://www.eecs.harvard.edu/~michaelm/postscripts/handbook2001.pdf
func NewLeastRequest(config LeastRequestConfig) Factory {
	choiceCount := config.ChoiceCount
	if choiceCount < 2 {
		choiceCount = 2
	}
	return FactoryFunc(func(prev Picker, allHosts Hosts) Picker {
		if allHosts.Len() == 0 {
			return ErrorPicker(ErrNoHosts)
		}
		itemMap := map[host.Host]*choicesHostItem{}
		if prev, ok := prev.(*nChoices); ok {
			for _, entry := range prev.hosts {
				itemMap[entry.host] = entry
			}
		}
		newHosts := make([]*choicesHostItem, allHosts.Len())
		for i := range newHosts {
			hst := allHosts.Get(i)
			if item, ok := itemMap[hst]; ok {
				newHosts[i] = item
			} else {
				newHosts[i] = &choicesHostItem{host: hst}
			}
		}
		return &nChoices{
			hosts:   newHosts,
			choices: choiceCount,
			rng:     internal.NewLockedRand(),
		}
	})
}

type nChoices struct {
	hosts   []*choicesHostItem
	choices int
	rng     *rand.Rand
}

type choicesHostItem struct {
	host host.Host
	// +checkatomic
	load atomic.Int64
}

func (p *nChoices) Pick(Request) (host.Host, func(), error) {
	entry := p.hosts[p.rng.Intn(len(p.hosts))]
	for i := 1; i < p.choices; i++ {
		candidate := p.hosts[p.rng.Intn(len(p.hosts))]
		if uint64(candidate.load.Load()) < uint64(entry.load.Load()) {
			entry = candidate
		}
	}

	entry.load.Add(1)
	whenDone := func() {
		entry.load.Add(-1)
	}

	return entry.host, whenDone, nil
}
