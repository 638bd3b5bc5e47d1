package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	registry    *prometheus.Registry
	trained     *prometheus.CounterVec
	generations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mchain_records_total",
				Help: "Corpus records seen by training, by outcome.",
			},
			[]string{"model", "outcome"},
		),
		generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mchain_generations_total",
				Help: "Generation requests, by outcome.",
			},
			[]string{"model", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mchain_request_duration_seconds",
				Help:    "Duration of API requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
	m.registry.MustRegister(m.trained, m.generations, m.duration)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records the duration of every call to next.
func (m *Metrics) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	obs := m.duration.WithLabelValues(endpoint)
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(obs)
		defer timer.ObserveDuration()
		next(w, r)
	}
}
