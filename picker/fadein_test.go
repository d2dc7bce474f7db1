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
	"testing"
	"time"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/internal/clocktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fadeInTestHosts(addrs ...string) ([]host.Host, Hosts) {
	hosts := make([]host.Host, len(addrs))
	for i, addr := range addrs {
		hosts[i] = &host.SimpleHost{Addr: addr}
	}
	return hosts, HostsFromSlice(hosts)
}

func pickCounts(t *testing.T, pick Picker, picks int) map[host.Host]int {
	t.Helper()
	counts := map[host.Host]int{}
	for i := 0; i < picks; i++ {
		hst, whenDone, err := pick.Pick(Request{})
		require.NoError(t, err)
		if whenDone != nil {
			whenDone()
		}
		counts[hst]++
	}
	return counts
}

func TestFadeInRampsUpFreshHost(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	factory := WithFadeIn(RandomFactory, FadeIn{Duration: time.Minute}).(*fadeInFactory)
	factory.clock = clock

	hosts, all := fadeInTestHosts("warm1", "warm2")
	pick := factory.New(nil, all)

	// Make the two initial hosts older than the fade-in window.
	clock.Advance(2 * time.Minute)
	pick = factory.New(pick, all)

	fresh := &host.SimpleHost{Addr: "fresh"}
	withFresh := append(hosts[:2:2], fresh)
	pick = factory.New(pick, HostsFromSlice(withFresh))

	// At age zero the fresh host receives (nearly) no traffic.
	counts := pickCounts(t, pick, 600)
	assert.Less(t, counts[fresh], 30)

	// Halfway through the window it receives roughly half its share.
	clock.Advance(30 * time.Second)
	counts = pickCounts(t, pick, 600)
	assert.Greater(t, counts[fresh], 40)
	assert.Less(t, counts[fresh], 160)

	// Past the window it is a full member again.
	clock.Advance(time.Minute)
	counts = pickCounts(t, pick, 600)
	assert.Greater(t, counts[fresh], 120)
}

func TestFadeInDetectionTimeSurvivesRebuild(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	factory := WithFadeIn(RoundRobinFactory, FadeIn{Duration: time.Minute}).(*fadeInFactory)
	factory.clock = clock

	_, all := fadeInTestHosts("a", "b")
	pick := factory.New(nil, all)
	first, ok := pick.(*fadeInPicker)
	require.True(t, ok)

	clock.Advance(30 * time.Second)
	rebuilt, ok := factory.New(pick, all).(*fadeInPicker)
	require.True(t, ok)
	for hst, detected := range first.detected {
		assert.Equal(t, detected, rebuilt.detected[hst])
	}
}

func TestFadeInDisabled(t *testing.T) {
	t.Parallel()

	// Zero duration returns the wrapped factory unchanged.
	factory := WithFadeIn(RoundRobinFactory, FadeIn{})
	assert.Equal(t, RoundRobinFactory, factory)
}

func TestFadeInSingleHost(t *testing.T) {
	t.Parallel()

	clock := clocktest.NewFakeClock()
	factory := WithFadeIn(RoundRobinFactory, FadeIn{Duration: time.Minute}).(*fadeInFactory)
	factory.clock = clock

	hosts, all := fadeInTestHosts("only")
	pick := factory.New(nil, all)

	// A lone host gets the traffic even while fading in.
	for i := 0; i < 5; i++ {
		hst, _, err := pick.Pick(Request{})
		require.NoError(t, err)
		assert.Equal(t, hosts[0], hst)
	}
}
