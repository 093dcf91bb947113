// Copyright 2025 AxonFlow
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

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"sqlgate/gateway/safety"
)

// Metrics are the Prometheus collectors of one gateway
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec
	cacheHits  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered. Collectors that are already registered
// are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlgate_gateway_executions_total",
				Help: "Total number of gateway calls by outcome",
			},
			[]string{"outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlgate_gateway_execution_duration_milliseconds",
				Help:    "Statement execution duration in milliseconds",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000},
			},
			[]string{"backend"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqlgate_gateway_rejections_total",
				Help: "Statements rejected by the safety validator by risk level",
			},
			[]string{"risk_level"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sqlgate_gateway_cache_hits_total",
				Help: "Statements answered from the result cache",
			},
		),
	}
	if reg != nil {
		m.executions = register(reg, m.executions)
		m.duration = register(reg, m.duration)
		m.rejections = register(reg, m.rejections)
		m.cacheHits = register(reg, m.cacheHits)
	}
	return m
}

// register returns the already registered collector when c is a
// duplicate, so several gateways in one process share series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func outcomeLabel(kind ErrorKind, cacheHit bool) string {
	switch {
	case kind == KindNone && cacheHit:
		return "cache_hit"
	case kind == KindNone:
		return "success"
	default:
		return string(kind)
	}
}

func (m *Metrics) observe(kind ErrorKind, cacheHit bool, backend string, durationMs float64, executed bool) {
	m.executions.WithLabelValues(outcomeLabel(kind, cacheHit)).Inc()
	if executed {
		if backend == "" {
			backend = "unknown"
		}
		m.duration.WithLabelValues(backend).Observe(durationMs)
	}
	if cacheHit {
		m.cacheHits.Inc()
	}
}

func (m *Metrics) rejected(level safety.RiskLevel) {
	m.rejections.WithLabelValues(level.String()).Inc()
}
