// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "geocoding"

// Metrics holds the Prometheus collectors of the geocoding service.
type Metrics struct {
	Requests         *prometheus.CounterVec   // labels: provider, method={forward,reverse}, outcome
	Cache            *prometheus.CounterVec   // labels: provider, method, result={hit,miss}
	ProviderDuration *prometheus.HistogramVec // labels: provider, method
	ResultsPersisted *prometheus.CounterVec   // labels: provider, successful={true,false}
	CacheLiveRows    prometheus.Gauge
	EventsPublished  *prometheus.CounterVec   // labels: outcome={ok,error}
	HTTPRequests     *prometheus.CounterVec   // labels: method, route, status
	HTTPDuration     *prometheus.HistogramVec // labels: method, route
}

func newMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Geocoding requests by provider, method and outcome.",
		}, []string{"provider", "method", "outcome"}),
		Cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_total",
			Help:      "Result cache lookups by provider, method and result.",
		}, []string{"provider", "method", "result"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Upstream provider call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider", "method"}),
		ResultsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_persisted_total",
			Help:      "Result rows written, split by success flag.",
		}, []string{"provider", "successful"}),
		CacheLiveRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_live_rows",
			Help:      "Successful results not yet expired.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Result events sent to the broker by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Requests,
		m.Cache,
		m.ProviderDuration,
		m.ResultsPersisted,
		m.CacheLiveRows,
		m.EventsPublished,
		m.HTTPRequests,
		m.HTTPDuration,
	}
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := newMetrics()
	reg.MustRegister(m.collectors()...)

	return m
}

// NewMetricsForTesting creates unregistered collectors, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
