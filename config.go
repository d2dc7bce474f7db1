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

package subsetlb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bufbuild/subsetlb/meta"
	"github.com/bufbuild/subsetlb/picker"
	"github.com/sirupsen/logrus"
)

// FallbackPolicy determines what happens when a request's match criteria
// select no subset, or select a subset that is currently empty.
type FallbackPolicy int

const (
	// FallbackNotDefined is only meaningful on a [Selector]: it defers to
	// the balancer-wide policy. At the balancer level it behaves like
	// FallbackNone.
	FallbackNotDefined FallbackPolicy = iota

	// FallbackNone selects no host; the caller applies its own retry or
	// failover policy.
	FallbackNone

	// FallbackAnyEndpoint selects over the full, unfiltered host set.
	FallbackAnyEndpoint

	// FallbackDefaultSubset selects over the subset of hosts matching the
	// configured default-subset metadata.
	FallbackDefaultSubset
)

// String returns the string representation of the policy.
func (p FallbackPolicy) String() string {
	switch p {
	case FallbackNotDefined:
		return "notDefined"
	case FallbackNone:
		return "noFallback"
	case FallbackAnyEndpoint:
		return "anyEndpoint"
	case FallbackDefaultSubset:
		return "defaultSubset"
	default:
		return fmt.Sprintf("FallbackPolicy(%d)", int(p))
	}
}

// Selector defines one dimension of subsetting: the metadata keys that
// partition hosts, and the fallback applied when a request names exactly
// these keys but no matching subset has hosts.
type Selector struct {
	// Keys are the metadata keys of this selector. Order is irrelevant;
	// keys are sorted lexically when the balancer is built. Must be
	// non-empty and free of duplicates.
	Keys []string
	// Fallback is this selector's fallback policy. FallbackNotDefined
	// defers to [Config.Fallback].
	Fallback FallbackPolicy
}

// DefaultPanicThreshold is the healthy-host fraction below which a
// subset's per-priority delegate ignores health filtering and balances
// over the full subset.
const DefaultPanicThreshold = 0.5

// Config configures a [SubsetLoadBalancer]. It is consumed at
// construction and immutable thereafter.
type Config struct {
	// Fallback is the balancer-wide fallback policy, applied when the
	// request carries no match criteria or its criteria match no
	// configured selector.
	Fallback FallbackPolicy

	// DefaultSubset is the metadata defining the default subset. Required
	// when Fallback, or any selector's fallback, is
	// FallbackDefaultSubset.
	DefaultSubset meta.Pairs

	// Selectors is the list of subsetting dimensions. Fixed for the
	// lifetime of the balancer.
	Selectors []Selector

	// LocalityWeightAware enables deriving per-locality weights for each
	// subset from the original host set's weights.
	LocalityWeightAware bool

	// ScaleLocalityWeight scales each derived locality weight by the
	// subset's share of that locality's hosts. Without it, original
	// weights are copied unscaled.
	ScaleLocalityWeight bool

	// PanicThreshold overrides [DefaultPanicThreshold]. Negative values
	// disable panic mode entirely. Must be <= 1.
	PanicThreshold float64

	// Picker creates the delegate load balancer of each subset. Defaults
	// to [picker.RoundRobinFactory]. Use [picker.NewFactory] to select an
	// algorithm by name.
	Picker picker.Factory

	// Stats receives subset lifecycle and selection counters. Defaults to
	// a no-op implementation.
	Stats Stats

	// Logger receives debug logging from the topology-update path.
	// Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

func (c *Config) validate() error {
	if c.Fallback == FallbackDefaultSubset && len(c.DefaultSubset) == 0 {
		return errors.New("defaultSubset fallback policy requires default subset metadata")
	}
	for _, pair := range c.DefaultSubset {
		if !pair.Value.Valid() {
			return fmt.Errorf("default subset metadata key %q has an invalid value", pair.Key)
		}
	}
	if c.PanicThreshold > 1 {
		return fmt.Errorf("panic threshold %v is not a fraction", c.PanicThreshold)
	}
	seenKeySets := map[string]struct{}{}
	for i, selector := range c.Selectors {
		if len(selector.Keys) == 0 {
			return fmt.Errorf("selector %d has no keys", i)
		}
		keys := sortedKeys(selector.Keys)
		for j := 1; j < len(keys); j++ {
			if keys[j-1] == keys[j] {
				return fmt.Errorf("selector %d has duplicate key %q", i, keys[j])
			}
		}
		keySet := fmt.Sprint(keys)
		if _, ok := seenKeySets[keySet]; ok {
			return fmt.Errorf("selector %d duplicates the key set %v", i, keys)
		}
		seenKeySets[keySet] = struct{}{}
		switch selector.Fallback {
		case FallbackNotDefined, FallbackNone, FallbackAnyEndpoint:
		case FallbackDefaultSubset:
			if len(c.DefaultSubset) == 0 {
				return fmt.Errorf("selector %d uses the defaultSubset fallback policy without default subset metadata", i)
			}
		default:
			return fmt.Errorf("selector %d has unknown fallback policy %v", i, selector.Fallback)
		}
	}
	return nil
}

func sortedKeys(keys []string) []string {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	return sorted
}
