// Package metrics exposes Prometheus instrumentation for token lifecycle and
// proxy traffic. Collectors register against an injected registry so tests
// can use an isolated one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	tokenAcquisitions   *prometheus.CounterVec
	acquisitionDuration *prometheus.HistogramVec
	retryAttempts       *prometheus.CounterVec
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
	breakerState        *prometheus.GaugeVec
	proxyRequests       *prometheus.CounterVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		tokenAcquisitions: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_oauth_token_acquisitions_total",
			Help: "Token acquisition attempts by server and outcome.",
		}, []string{"server", "status"}),
		acquisitionDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dicomweb_oauth_token_acquisition_duration_seconds",
			Help:    "Wall time spent acquiring a token, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"server"}),
		retryAttempts: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_oauth_token_retry_attempts_total",
			Help: "Retried token exchanges by server.",
		}, []string{"server"}),
		cacheHits: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_oauth_token_cache_hits_total",
			Help: "Token requests served from a cached fresh token.",
		}, []string{"server"}),
		cacheMisses: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_oauth_token_cache_misses_total",
			Help: "Token requests that required a new acquisition.",
		}, []string{"server"}),
		breakerState: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dicomweb_oauth_circuit_breaker_open",
			Help: "1 when the server's token endpoint breaker is open.",
		}, []string{"server"}),
		proxyRequests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dicomweb_oauth_proxy_requests_total",
			Help: "Proxied DICOMweb requests by server and response code.",
		}, []string{"server", "code"}),
	}
	return m
}

func (m *Metrics) RecordAcquisition(server, status string, duration time.Duration) {
	m.tokenAcquisitions.WithLabelValues(server, status).Inc()
	m.acquisitionDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func (m *Metrics) RecordRetry(server string) {
	m.retryAttempts.WithLabelValues(server).Inc()
}

func (m *Metrics) RecordCacheHit(server string) {
	m.cacheHits.WithLabelValues(server).Inc()
}

func (m *Metrics) RecordCacheMiss(server string) {
	m.cacheMisses.WithLabelValues(server).Inc()
}

func (m *Metrics) SetBreakerOpen(server string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	m.breakerState.WithLabelValues(server).Set(v)
}

func (m *Metrics) RecordProxyRequest(server string, code int) {
	m.proxyRequests.WithLabelValues(server, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
