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

package picker_test

import (
	"testing"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/picker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeastRequestPrefersIdleHost(t *testing.T) {
	t.Parallel()

	hosts, all := testHosts("a", "b", "c")
	pick := picker.LeastRequestRoundRobinFactory.New(nil, all)

	// Hold one in-flight request on every host but hosts[1], then verify
	// the idle host wins repeatedly once its operations complete.
	var dones []func()
	for i := 0; i < 3; i++ {
		hst, whenDone, err := pick.Pick(picker.Request{})
		require.NoError(t, err)
		require.NotNil(t, whenDone)
		if hst == hosts[1] {
			whenDone()
		} else {
			dones = append(dones, whenDone)
		}
	}
	require.Len(t, dones, 2)

	for i := 0; i < 3; i++ {
		hst, whenDone, err := pick.Pick(picker.Request{})
		require.NoError(t, err)
		assert.Equal(t, hosts[1], hst)
		whenDone()
	}
	for _, done := range dones {
		done()
	}
}

func TestLeastRequestStateSurvivesRebuild(t *testing.T) {
	t.Parallel()

	hosts, all := testHosts("a", "b")
	pick := picker.LeastRequestRandomFactory.New(nil, all)

	// Load up hosts[0] and leave the operations in flight.
	var heldHost host.Host
	var held []func()
	for len(held) == 0 {
		hst, whenDone, err := pick.Pick(picker.Request{})
		require.NoError(t, err)
		heldHost = hst
		held = append(held, whenDone)
	}
	for i := 0; i < 4; i++ {
		hst, whenDone, err := pick.Pick(picker.Request{})
		require.NoError(t, err)
		if hst == heldHost {
			held = append(held, whenDone)
		} else {
			whenDone()
		}
	}

	// Rebuild with the same hosts plus a new one. In-flight counts must
	// carry over, so the loaded host is not picked while idle hosts
	// exist.
	newHost := &host.SimpleHost{Addr: "c"}
	rebuilt := picker.LeastRequestRandomFactory.New(pick, picker.HostsFromSlice(append(hosts[:2:2], newHost)))
	for i := 0; i < 10; i++ {
		hst, whenDone, err := rebuilt.Pick(picker.Request{})
		require.NoError(t, err)
		assert.NotEqual(t, heldHost, hst)
		whenDone()
	}
	for _, done := range held {
		done()
	}
}

func TestNChoicesTracksLoad(t *testing.T) {
	t.Parallel()

	hosts, all := testHosts("a", "b")
	pick := picker.NewLeastRequest(picker.LeastRequestConfig{ChoiceCount: 32}).New(nil, all)

	// With the sample count far above the host count, every pick compares
	// both hosts, so the loaded one is avoided.
	hst, whenDone, err := pick.Pick(picker.Request{})
	require.NoError(t, err)
	require.NotNil(t, whenDone)
	for i := 0; i < 10; i++ {
		other, otherDone, err := pick.Pick(picker.Request{})
		require.NoError(t, err)
		assert.NotEqual(t, hst, other)
		otherDone()
	}
	whenDone()
	assert.Contains(t, hosts, hst)
}

func TestNChoicesStateSurvivesRebuild(t *testing.T) {
	t.Parallel()

	_, all := testHosts("a", "b")
	factory := picker.NewLeastRequest(picker.LeastRequestConfig{ChoiceCount: 32})
	pick := factory.New(nil, all)

	hst, whenDone, err := pick.Pick(picker.Request{})
	require.NoError(t, err)

	rebuilt := factory.New(pick, all)
	for i := 0; i < 10; i++ {
		other, otherDone, err := rebuilt.Pick(picker.Request{})
		require.NoError(t, err)
		assert.NotEqual(t, hst, other)
		otherDone()
	}
	whenDone()
}
