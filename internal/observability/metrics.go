// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ingeniia/authsvc/internal/auth"
)

// Metrics contains the service's Prometheus collectors.
type Metrics struct {
	OutcomesTotal       *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec
}

// Compile-time interface check.
var _ auth.Recorder = (*Metrics)(nil)

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsvc_operation_outcomes_total",
				Help: "Auth operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authsvc_http_request_duration_seconds",
				Help:    "HTTP request latency by method, route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authsvc_rate_limited_total",
				Help: "Requests rejected by the per-IP rate limiter",
			},
			[]string{"bucket"},
		),
	}

	reg.MustRegister(m.OutcomesTotal, m.HTTPRequestDuration, m.RateLimitedTotal)
	return m
}

// RecordOutcome counts one finished auth operation.
func (m *Metrics) RecordOutcome(operation, outcome string) {
	m.OutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordRateLimited counts a request rejected in bucket.
func (m *Metrics) RecordRateLimited(bucket string) {
	m.RateLimitedTotal.WithLabelValues(bucket).Inc()
}
