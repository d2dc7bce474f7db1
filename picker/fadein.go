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
	"math"
	"math/rand"
	"time"

	"github.com/bufbuild/subsetlb/host"
	"github.com/bufbuild/subsetlb/internal"
)

// FadeIn configures a traffic ramp for freshly added hosts: a host first
// seen less than Duration ago receives a share of traffic that grows from
// zero to its full share over Duration. This avoids overwhelming a cold
// host (empty caches, unwarmed connection pools) the moment it appears.
type FadeIn struct {
	// Duration is the length of the ramp. Zero disables fade-in.
	Duration time.Duration
	// Ease is the exponent of the ramp curve; the traffic share of a host
	// of age a is (a/Duration)^Ease. Values <= 0 are treated as 1
	// (linear).
	Ease float64
}

// WithFadeIn wraps a factory so that its pickers apply the fade-in ramp.
// When the wrapped picker chooses a still-fading host, the choice is kept
// with probability equal to the host's current ramp value and otherwise
// shifted to one of the remaining hosts, preferring warmed-up ones.
//
// The wrapper tracks when each host was first seen, carrying that state
// across picker generations. It is intended for stateless algorithms
// (round-robin, random); a shifted pick discards the wrapped algorithm's
// completion callback.
func WithFadeIn(factory Factory, config FadeIn) Factory {
	if config.Duration <= 0 {
		return factory
	}
	if config.Ease <= 0 {
		config.Ease = 1
	}
	return &fadeInFactory{
		inner: factory,
		cfg:   config,
		clock: internal.NewRealClock(),
	}
}

type fadeInFactory struct {
	inner Factory
	cfg   FadeIn
	clock internal.Clock
}

func (f *fadeInFactory) New(prev Picker, allHosts Hosts) Picker {
	if allHosts.Len() == 0 {
		return ErrorPicker(ErrNoHosts)
	}
	var prevInner Picker
	var prevDetected map[host.Host]time.Time
	if prev, ok := prev.(*fadeInPicker); ok {
		prevInner = prev.inner
		prevDetected = prev.detected
	}
	now := f.clock.Now()
	hosts := make([]host.Host, allHosts.Len())
	detected := make(map[host.Host]time.Time, allHosts.Len())
	for i := range hosts {
		hst := allHosts.Get(i)
		hosts[i] = hst
		if t, ok := prevDetected[hst]; ok {
			detected[hst] = t
		} else {
			detected[hst] = now
		}
	}
	return &fadeInPicker{
		factory:  f,
		inner:    f.inner.New(prevInner, allHosts),
		hosts:    hosts,
		detected: detected,
		rng:      internal.NewLockedRand(),
	}
}

type fadeInPicker struct {
	factory *fadeInFactory
	inner   Picker
	hosts   []host.Host
	// detected is immutable once the picker is built.
	detected map[host.Host]time.Time
	rng      *rand.Rand
}

func (p *fadeInPicker) Pick(req Request) (host.Host, func(), error) {
	picked, whenDone, err := p.inner.Pick(req)
	if err != nil || len(p.hosts) == 1 {
		return picked, whenDone, err
	}
	now := p.factory.clock.Now()
	if chance(p.rng, p.fadeFactor(now, picked)) {
		return picked, whenDone, nil
	}
	if whenDone != nil {
		whenDone()
	}
	from := 0
	for i, hst := range p.hosts {
		if hst == picked {
			from = i
			break
		}
	}
	return p.shiftToRemaining(now, from), nil, nil
}

func (p *fadeInPicker) fadeFactor(now time.Time, hst host.Host) float64 {
	detected, ok := p.detected[hst]
	if !ok {
		return 1
	}
	rel := now.Sub(detected)
	if rel >= p.factory.cfg.Duration {
		return 1
	}
	return math.Pow(float64(rel)/float64(p.factory.cfg.Duration), p.factory.cfg.Ease)
}

// shiftToRemaining walks the remaining hosts from the rejected choice,
// keeping each with a chance proportional to its ramp value; the last
// candidate is taken unconditionally. Expects len(p.hosts) >= 2.
func (p *fadeInPicker) shiftToRemaining(now time.Time, from int) host.Host {
	i, c := from, len(p.hosts)
	for {
		i = (i + 1) % len(p.hosts)
		c--
		if c == 1 {
			return p.hosts[i]
		}
		f := p.fadeFactor(now, p.hosts[i])
		if chance(p.rng, f/float64(c)) {
			return p.hosts[i]
		}
	}
}

func chance(rng *rand.Rand, c float64) bool {
	return rng.Float64() < c
}
