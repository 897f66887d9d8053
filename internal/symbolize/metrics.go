// Copyright The Symtrace Authors
// SPDX-License-Identifier: Apache-2.0

package symbolize

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks resolution outcomes. All methods are safe on a nil
// receiver, so metrics stay optional for embedders.
type Metrics struct {
	resolved *prometheus.CounterVec
	cache    *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewMetrics creates and registers the engine's metrics.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		resolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbols_resolved_total",
				Help:      "Address resolutions by source and outcome",
			},
			[]string{"source", "status"},
		),
		cache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbol_cache_total",
				Help:      "Frame cache hit/miss counters",
			},
			[]string{"result"},
		),
		latency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "symbol_resolution_duration_seconds",
				Help:      "Time spent resolving addresses",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
			},
		),
	}

	for _, c := range []prometheus.Collector{m.resolved, m.cache, m.latency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordResolved(source string) {
	if m != nil {
		m.resolved.WithLabelValues(source, "resolved").Inc()
	}
}

func (m *Metrics) recordUnresolved(source string) {
	if m != nil {
		m.resolved.WithLabelValues(source, "unresolved").Inc()
	}
}

func (m *Metrics) recordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
	} else {
		m.cache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeLatency(d time.Duration) {
	if m != nil {
		m.latency.Observe(d.Seconds())
	}
}
