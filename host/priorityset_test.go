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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateHostsNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	pset := NewPrioritySet()
	var gotPriority int
	var gotAdded, gotRemoved []Host
	calls := 0
	sub := pset.Subscribe(func(priority int, added, removed []Host) {
		calls++
		gotPriority, gotAdded, gotRemoved = priority, added, removed
	})
	defer func() { _ = sub.Close() }()

	h1 := &SimpleHost{Addr: "1.2.3.4:80"}
	h2 := &SimpleHost{Addr: "1.2.3.5:80"}
	pset.UpdateHosts(0, []Host{h1, h2}, nil)
	require.Equal(t, 1, calls)
	assert.Equal(t, 0, gotPriority)
	assert.Equal(t, []Host{h1, h2}, gotAdded)
	assert.Empty(t, gotRemoved)

	sets := pset.HostSets()
	require.Len(t, sets, 1)
	assert.Equal(t, []Host{h1, h2}, sets[0].Hosts())
	assert.Equal(t, uint32(DefaultOverprovisioningFactor), sets[0].OverprovisioningFactor())

	pset.UpdateHosts(0, nil, []Host{h1})
	require.Equal(t, 2, calls)
	assert.Equal(t, []Host{h1}, gotRemoved)
	assert.Equal(t, []Host{h2}, pset.HostSets()[0].Hosts())
}

func TestUpdateHostsIgnoresNoOpDeltas(t *testing.T) {
	t.Parallel()

	pset := NewPrioritySet()
	h1 := &SimpleHost{Addr: "1.2.3.4:80"}
	pset.UpdateHosts(0, []Host{h1}, nil)

	calls := 0
	sub := pset.Subscribe(func(int, []Host, []Host) { calls++ })
	defer func() { _ = sub.Close() }()

	// Re-adding a member and removing a non-member are both no-ops.
	pset.UpdateHosts(0, []Host{h1}, nil)
	pset.UpdateHosts(0, nil, []Host{&SimpleHost{Addr: "9.9.9.9:80"}})
	assert.Zero(t, calls)
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()

	pset := NewPrioritySet()
	calls := 0
	sub := pset.Subscribe(func(int, []Host, []Host) { calls++ })
	pset.UpdateHosts(0, []Host{&SimpleHost{Addr: "a"}}, nil)
	require.Equal(t, 1, calls)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close()) // idempotent
	pset.UpdateHosts(0, []Host{&SimpleHost{Addr: "b"}}, nil)
	assert.Equal(t, 1, calls)
}

func TestPriorityLevelsCreatedOnDemand(t *testing.T) {
	t.Parallel()

	pset := NewPrioritySet()
	h := &SimpleHost{Addr: "backup"}
	pset.UpdateHosts(2, []Host{h}, nil)

	sets := pset.HostSets()
	require.Len(t, sets, 3)
	assert.Empty(t, sets[0].Hosts())
	assert.Empty(t, sets[1].Hosts())
	assert.Equal(t, []Host{h}, sets[2].Hosts())
	assert.Equal(t, 2, sets[2].Priority())
}

func TestHealthyHostsAndWeights(t *testing.T) {
	t.Parallel()

	pset := NewPrioritySet()
	locA := Locality{Region: "eu", Zone: "a"}
	h1 := &SimpleHost{Addr: "h1", Loc: locA}
	h2 := &SimpleHost{Addr: "h2", Loc: locA, Unhealthy: true}
	pset.UpdateHosts(0, []Host{h1, h2}, nil)
	pset.SetLocalityWeights(0, map[Locality]uint32{locA: 10})
	pset.SetOverprovisioningFactor(0, 200)

	set := pset.HostSets()[0]
	assert.Equal(t, []Host{h1, h2}, set.Hosts())
	assert.Equal(t, []Host{h1}, set.HealthyHosts())
	assert.Equal(t, map[Locality]uint32{locA: 10}, set.LocalityWeights())
	assert.Equal(t, uint32(200), set.OverprovisioningFactor())
}
