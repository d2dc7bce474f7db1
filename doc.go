// Copyright 2023 Buf Technologies, Inc.
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

// Package subsetlb implements metadata-based subset load balancing: each
// host in a cluster carries a metadata map, and requests are routed to
// the subset of hosts whose metadata matches the request's criteria.
//
// To create a balancer use the [New] function with a [host.PrioritySet]
// describing the cluster topology and a [Config] describing the subset
// selectors, fallback policies, and the load balancing algorithm applied
// within each subset (see the [picker] sub-package).
//
// # Subsets and selectors
//
// The balancer does not enumerate every possible metadata combination.
// Instead, [Config.Selectors] lists the key sets that requests may match
// on, and a subset exists only for key/value combinations actually
// present on live hosts. As hosts are added and removed, subsets are
// created and torn down incrementally; a request never observes a
// subset that has no hosts.
//
// A request's criteria resolve against the selector whose key set
// matches the criteria's keys exactly. When no such selector exists, or
// the matching subset is empty, a fallback policy decides whether the
// request fails, is served by any host in the cluster, or is served by
// the hosts matching [Config.DefaultSubset].
//
// # Priorities and health
//
// Hosts are grouped into priority levels. Within a subset, selection
// prefers the highest priority level with sufficient healthy capacity,
// spilling over to lower levels as health degrades. When the healthy
// fraction of a level drops below [Config.PanicThreshold], the balancer
// enters panic mode for that level and routes to all of its hosts,
// healthy or not.
//
// # Concurrency
//
// Topology updates must be serialized (the [host.PrioritySet]
// subscription delivers them that way); [SubsetLoadBalancer.PickHost]
// may be called concurrently from any number of goroutines and never
// blocks on an update. Each update publishes an immutable snapshot of
// the subset index with a single atomic store.
package subsetlb
