// Package metrics provides Prometheus metrics of the client.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthRetries     *prometheus.CounterVec
	Polls           *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec

	registry *prometheus.Registry
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuam_http_requests_total",
				Help: "Total number of API requests by method and status code.",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nuam_http_request_duration_seconds",
				Help:    "API request duration by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		AuthRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuam_auth_retries_total",
				Help: "Requests resent after token refresh, by refresh result.",
			},
			[]string{"result"},
		),
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuam_notification_polls_total",
				Help: "Notification poll cycles by result.",
			},
			[]string{"result"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuam_notifications_total",
				Help: "Notifications generated by type.",
			},
			[]string{"type"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nuam_cache_lookups_total",
				Help: "Cache lookups by cache name and result.",
			},
			[]string{"cache", "result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.AuthRetries)
	reg.MustRegister(m.Polls)
	reg.MustRegister(m.Notifications)
	reg.MustRegister(m.CacheLookups)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordRequest(method string, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RecordAuthRetry(result string) {
	if m == nil {
		return
	}
	m.AuthRetries.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}
