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
	"sort"
	"strconv"

	"github.com/bufbuild/subsetlb/host"
	"github.com/cespare/xxhash/v2"
)

const (
	defaultMinRingSize = 1024
	defaultMaxRingSize = 8 * 1024 * 1024
)

// RingHashConfig configures the ring-hash algorithm created by
// [NewRingHash].
type RingHashConfig struct {
	// MinRingSize is the minimum number of ring entries. Larger rings
	// spread hosts more evenly at the cost of memory. Defaults to 1024.
	MinRingSize uint64
	// MaxRingSize caps the number of ring entries. Defaults to 8M.
	MaxRingSize uint64
}

// NewRingHash creates a factory for consistent-hashing pickers. The
// factory builds an immutable ring from the host list: each host claims a
// number of positions determined by hashing "address|replica" with
// xxhash. A pick hashes [Request.HashKey] and walks to the nearest ring
// position clockwise, so the same key maps to the same host for as long
// as that host remains in the list, and removing a host only moves the
// keys that mapped to it. The ring is rebuilt wholesale on every host
// list change; the previous ring is never mutated.
//
// A request without a hash key is sent to a uniformly random ring
// position.
func NewRingHash(config RingHashConfig) Factory {
	minSize := config.MinRingSize
	if minSize == 0 {
		minSize = defaultMinRingSize
	}
	maxSize := config.MaxRingSize
	if maxSize == 0 {
		maxSize = defaultMaxRingSize
	}
	if minSize > maxSize {
		minSize = maxSize
	}
	return FactoryFunc(func(_ Picker, allHosts Hosts) Picker {
		numHosts := uint64(allHosts.Len())
		if numHosts == 0 {
			return ErrorPicker(ErrNoHosts)
		}
		replicas := (minSize + numHosts - 1) / numHosts
		if replicas*numHosts > maxSize {
			replicas = maxSize / numHosts
			if replicas == 0 {
				replicas = 1
			}
		}
		ring := make([]ringEntry, 0, replicas*numHosts)
		for i := uint64(0); i < numHosts; i++ {
			hst := allHosts.Get(int(i))
			addr := hst.Address()
			for r := uint64(0); r < replicas; r++ {
				ring = append(ring, ringEntry{
					hash: xxhash.Sum64String(addr + "|" + strconv.FormatUint(r, 10)),
					host: hst,
				})
			}
		}
		sort.Slice(ring, func(i, j int) bool {
			return ring[i].hash < ring[j].hash
		})
		return &ringHash{ring: ring}
	})
}

type ringEntry struct {
	hash uint64
	host host.Host
}

type ringHash struct {
	ring []ringEntry
}

func (p *ringHash) Pick(req Request) (host.Host, func(), error) {
	if req.HashKey == "" {
		return p.ring[rand.Intn(len(p.ring))].host, //nolint:gosec // does not need to be cryptographically secure
			nil, nil
	}
	sum := xxhash.Sum64String(req.HashKey)
	idx := sort.Search(len(p.ring), func(i int) bool {
		return p.ring[i].hash >= sum
	})
	if idx == len(p.ring) {
		idx = 0
	}
	return p.ring[idx].host, nil, nil
}
