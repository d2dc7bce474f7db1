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

import "errors"

// Algorithm indicates a load balancing algorithm by name.
type Algorithm int

const (
	// None is the default non-specified algorithm.
	None Algorithm = iota

	// RoundRobin indicates round-robin balancing between hosts.
	RoundRobin

	// Random indicates random choice between hosts.
	Random

	// LeastRequest indicates choosing the host with the fewest in-flight
	// requests among a random sample.
	LeastRequest

	// RingHash indicates consistent-hash choice based on the request's
	// hash key.
	RingHash
)

// AlgorithmConfig carries the per-algorithm tuning knobs consumed by
// [NewFactory]. Fields for algorithms other than the selected one are
// ignored.
type AlgorithmConfig struct {
	LeastRequest LeastRequestConfig
	RingHash     RingHashConfig
	// FadeIn applies to RoundRobin and Random.
	FadeIn FadeIn
}

// NewFactory returns the factory for the given algorithm. None selects
// round-robin.
func NewFactory(algorithm Algorithm, config AlgorithmConfig) Factory {
	switch algorithm {
	case RoundRobin, None:
		return WithFadeIn(RoundRobinFactory, config.FadeIn)
	case Random:
		return WithFadeIn(RandomFactory, config.FadeIn)
	case LeastRequest:
		return NewLeastRequest(config.LeastRequest)
	case RingHash:
		return NewRingHash(config.RingHash)
	default:
		return nil
	}
}

// AlgorithmFromString parses the string representation of the algorithm
// definition.
func AlgorithmFromString(a string) (Algorithm, error) {
	switch a {
	case "":
		// This means that the user didn't explicitly specify which
		// algorithm should be used, and we will use a default one.
		return None, nil
	case "roundRobin":
		return RoundRobin, nil
	case "random":
		return Random, nil
	case "leastRequest":
		return LeastRequest, nil
	case "ringHash":
		return RingHash, nil
	default:
		return None, errors.New("unsupported algorithm")
	}
}

// String returns the string representation of an algorithm definition.
func (a Algorithm) String() string {
	switch a {
	case RoundRobin:
		return "roundRobin"
	case Random:
		return "random"
	case LeastRequest:
		return "leastRequest"
	case RingHash:
		return "ringHash"
	default:
		return ""
	}
}
