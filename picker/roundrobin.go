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
	"sync/atomic"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/internal"
)

//nolint:gochecknoglobals
var (
	// RoundRobinFactory creates pickers that pick hosts in a "round-robin"
	// fashion, that is to say, in sequential order. In order to mitigate
	// the risk of a "thundering herd" scenario, the order of hosts is
	// randomized each time the host list changes.
	RoundRobinFactory Factory = roundRobinFactory{}
)

type roundRobinFactory struct{}

type roundRobin struct {
	hosts []host.Host
	// +checkatomic
	counter atomic.Int64
}

func (f roundRobinFactory) New(_ Picker, allHosts Hosts) Picker {
	numHosts := allHosts.Len()
	if numHosts == 0 {
		return ErrorPicker(ErrNoHosts)
	}
	rnd := internal.NewRand()
	hosts := make([]host.Host, numHosts)
	for i := 0; i < numHosts; i++ {
		hosts[i] = allHosts.Get(i)
	}
	rnd.Shuffle(numHosts, func(i, j int) {
		hosts[i], hosts[j] = hosts[j], hosts[i]
	})
	picker := &roundRobin{hosts: hosts}
	picker.counter.Store(-1)
	return picker
}

func (r *roundRobin) Pick(_ Request) (host.Host, func(), error) {
	return r.hosts[uint64(r.counter.Add(1))%uint64(len(r.hosts))], nil, nil
}
