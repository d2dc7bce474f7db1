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

// Package host provides the representation of upstream hosts and of the
// cluster topology they belong to. A cluster's hosts are organized into
// priority levels; each level is a [Set]. The [PrioritySet] is the live
// view of all levels and is the source of topology-change notifications
// consumed by the subset load balancer.
package host

import (
	"io"

	"github.com/bufbuild/subsetlb/meta"
)

// DefaultOverprovisioningFactor is the overprovisioning factor applied to
// a priority level that does not configure its own, expressed in percent.
const DefaultOverprovisioningFactor = 140

// Locality is the geographic or topological grouping of a host, used for
// locality-weighted traffic distribution.
type Locality struct {
	Region  string
	Zone    string
	SubZone string
}

// Host represents a single upstream endpoint. Implementations must be
// immutable per topology snapshot: membership and health changes are
// expressed by delivering added/removed sets through the [PrioritySet]
// subscription, never by mutating a Host in place.
type Host interface {
	// Address returns the host's network address, e.g. "10.0.0.1:8080".
	Address() string
	// Metadata returns the host's metadata map. Callers must not mutate
	// the returned map.
	Metadata() map[string]meta.Value
	// Locality returns the host's locality.
	Locality() Locality
	// Healthy reports the host's health status as determined by the
	// cluster's health checking, which is external to this package.
	Healthy() bool
}

// Set is the read-only view of one priority level of a cluster.
// Slices and maps returned by a Set are snapshots owned by the Set;
// callers must not mutate them.
type Set interface {
	// Priority returns the priority level of this set, 0 being highest.
	Priority() int
	// Hosts returns all hosts in this set.
	Hosts() []Host
	// HealthyHosts returns the hosts currently passing health checks.
	HealthyHosts() []Host
	// LocalityWeights returns the configured per-locality weights, or nil
	// when locality weighting is not in use.
	LocalityWeights() map[Locality]uint32
	// OverprovisioningFactor returns the overprovisioning factor for this
	// set, in percent.
	OverprovisioningFactor() uint32
}

// UpdateFunc is invoked after a priority level's membership changed.
// Updates are delivered one at a time; implementations must not retain
// the added/removed slices beyond the call.
type UpdateFunc func(priority int, added, removed []Host)

// Subscription represents a registered [UpdateFunc]. Closing it
// deregisters the callback; Close is idempotent and never returns a
// non-nil error.
type Subscription = io.Closer

// PrioritySet is the live host membership of a cluster across all
// priority levels.
type PrioritySet interface {
	// HostSets returns one Set per priority level, indexed by priority.
	HostSets() []Set
	// Subscribe registers a callback for membership changes. The callback
	// may be invoked synchronously by whatever goroutine applies the
	// change, but never concurrently with itself.
	Subscribe(fn UpdateFunc) Subscription
}
