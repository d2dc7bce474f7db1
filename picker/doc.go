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

// Package picker provides the load-balancing algorithms that pick a host
// out of a fixed candidate list. The subset load balancer instantiates
// one picker per subset and priority level through a [Factory], and
// rebuilds (never mutates) the picker whenever the candidate list
// changes.
//
// This package defines the core interface, [Picker], and contains the
// standard algorithm implementations: round-robin, random, least-request
// (both a heap-based exact variant and an N-random-choices variant), and
// ring-hash. Round-robin and random optionally apply a fade-in ramp that
// eases traffic onto freshly added hosts.
//
// Custom [Picker] implementations can use host metadata or locality to
// implement affinity or weighted policies on top of what is provided
// here.
package picker
