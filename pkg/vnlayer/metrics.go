// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vnlayer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "vnlayer"

// metrics holds the Layer's Prometheus collectors.
type metrics struct {
	vnodes          prometheus.Gauge
	shadows         prometheus.Gauge
	shadowFailures  *prometheus.CounterVec
	aliasLookups    *prometheus.CounterVec
	credOverrides   prometheus.Counter
	pinnedContexts  prometheus.Counter
	illegalAccesses prometheus.Counter
}

// register registers c with reg. If an identical collector is already
// registered, that one is returned instead so several Layers can share a
// registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if reg == nil {
		return c
	}
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	if err != nil {
		panic(err)
	}
	return c
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		vnodes: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cleartext_vnodes",
			Help:      "Live cleartext vnodes, including the cached root vnode.",
		})),
		shadows: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "shadows",
			Help:      "Live shadow inodes.",
		})),
		shadowFailures: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "shadow_alloc_failures_total",
			Help:      "Failed shadow allocations by reason.",
		}, []string{"reason"})),
		aliasLookups: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alias_lookups_total",
			Help:      "Alias resolutions by the pass that matched, or \"miss\".",
		}, []string{"result"})),
		credOverrides: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "credential_overrides_total",
			Help:      "Filesystem identity switches performed.",
		})),
		pinnedContexts: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pinned_fs_contexts_total",
			Help:      "Pinned filesystem contexts created.",
		})),
		illegalAccesses: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "illegal_accesses_total",
			Help:      "Shadow operations invoked directly instead of through a vnode.",
		})),
	}
}
