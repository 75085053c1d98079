// Copyright 2025 The Draftforge Authors
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

package daemon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes run counters on the Prometheus registry.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	tokensTotal *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewMetrics registers the daemon's collectors. A nil registerer uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_runs_total",
			Help: "Pipeline runs by pipeline and final status.",
		}, []string{"pipeline", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "draftforge_run_duration_seconds",
			Help:    "Wall-clock duration of pipeline runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"pipeline"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftforge_llm_tokens_total",
			Help: "LLM tokens consumed by completed runs.",
		}, []string{"pipeline"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "draftforge_queue_depth",
			Help: "Jobs waiting in the run queue.",
		}),
	}

	reg.MustRegister(m.runsTotal, m.runDuration, m.tokensTotal, m.queueDepth)
	return m
}

func (m *Metrics) recordRun(pipeline, status string, duration time.Duration, tokens int) {
	m.runsTotal.WithLabelValues(pipeline, status).Inc()
	m.runDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
	if tokens > 0 {
		m.tokensTotal.WithLabelValues(pipeline).Add(float64(tokens))
	}
}

func (m *Metrics) setQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}
