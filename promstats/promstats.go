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

// Package promstats provides a Prometheus-backed implementation of the
// balancer's stats sink.
package promstats

import (
	"github.com/bufbuild/subsetlb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats exposes subset lifecycle and selection outcome metrics. It
// implements [subsetlb.Stats].
type Stats struct {
	// SubsetsCreated counts subsets created over the balancer's lifetime.
	SubsetsCreated prometheus.Counter

	// SubsetsRemoved counts subsets torn down after their last host left.
	SubsetsRemoved prometheus.Counter

	// ActiveSubsets tracks the number of subsets that currently have hosts.
	ActiveSubsets prometheus.Gauge

	// SelectionsTotal counts host selections broken down by how the
	// request resolved. Labels: result (exact, selector_fallback_any,
	// selector_fallback_default, fallback_any, fallback_default, panic,
	// none)
	SelectionsTotal *prometheus.CounterVec
}

// New creates stats metrics registered with the default registry.
func New() *Stats {
	return newStats(promauto.With(prometheus.DefaultRegisterer))
}

// NewWithRegistry creates stats metrics registered with a custom
// registry. Useful for testing to avoid conflicts with the default
// registry.
func NewWithRegistry(reg prometheus.Registerer) *Stats {
	return newStats(promauto.With(reg))
}

func newStats(factory promauto.Factory) *Stats {
	return &Stats{
		SubsetsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "subsetlb",
			Name:      "subsets_created_total",
			Help:      "Total number of subsets created.",
		}),
		SubsetsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "subsetlb",
			Name:      "subsets_removed_total",
			Help:      "Total number of subsets removed after losing their last host.",
		}),
		ActiveSubsets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "subsetlb",
			Name:      "active_subsets",
			Help:      "Number of subsets that currently have hosts.",
		}),
		SelectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subsetlb",
			Name:      "selections_total",
			Help:      "Total number of host selections, broken down by resolution outcome.",
		}, []string{"result"}),
	}
}

// SubsetCreated implements [subsetlb.Stats].
func (s *Stats) SubsetCreated() {
	s.SubsetsCreated.Inc()
}

// SubsetRemoved implements [subsetlb.Stats].
func (s *Stats) SubsetRemoved() {
	s.SubsetsRemoved.Inc()
}

// SetActiveSubsets implements [subsetlb.Stats].
func (s *Stats) SetActiveSubsets(count int) {
	s.ActiveSubsets.Set(float64(count))
}

// Selection implements [subsetlb.Stats].
func (s *Stats) Selection(result subsetlb.SelectionResult) {
	s.SelectionsTotal.WithLabelValues(result.String()).Inc()
}
