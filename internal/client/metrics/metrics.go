// Package metrics exposes Prometheus counters for the client's session core
// and its API traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes recorded by RecordRefresh.
const (
	RefreshRenewed  = "renewed"
	RefreshDeclined = "declined"
	RefreshFailed   = "failed"
)

// SessionRecorder receives events from the session manager.
type SessionRecorder interface {
	RecordRefresh(outcome string)
	RecordRefreshJoined()
	RecordRetry()
	RecordSessionCleared(reason string)
}

// APIRecorder receives events from the HTTP API client.
type APIRecorder interface {
	RecordAPIStatus(statusCode int)
	RecordAPILatency(d time.Duration)
}

// Collector implements both recorders on top of Prometheus.
type Collector struct {
	refreshes      *prometheus.CounterVec
	refreshJoined  prometheus.Counter
	retries        prometheus.Counter
	sessionCleared *prometheus.CounterVec
	apiStatus      *prometheus.CounterVec
	apiLatency     prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscribe_session_refresh_total",
			Help: "Credential refresh calls that reached the backend, by outcome.",
		}, []string{"outcome"}),
		refreshJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_session_refresh_joined_total",
			Help: "Callers that shared an already outstanding refresh.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_session_retry_total",
			Help: "Authenticated calls retried once after a credential refresh.",
		}),
		sessionCleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscribe_session_cleared_total",
			Help: "Session clears, by reason.",
		}, []string{"reason"}),
		apiStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medscribe_api_responses_total",
			Help: "API responses by HTTP status code.",
		}, []string{"status_code"}),
		apiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medscribe_api_latency_seconds",
			Help:    "API round-trip latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.refreshes,
		c.refreshJoined,
		c.retries,
		c.sessionCleared,
		c.apiStatus,
		c.apiLatency,
	)

	return c
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordRefreshJoined() {
	c.refreshJoined.Inc()
}

func (c *Collector) RecordRetry() {
	c.retries.Inc()
}

func (c *Collector) RecordSessionCleared(reason string) {
	c.sessionCleared.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordAPIStatus(statusCode int) {
	c.apiStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordAPILatency(d time.Duration) {
	c.apiLatency.Observe(d.Seconds())
}

// Nop discards every event.
type Nop struct{}

func (Nop) RecordRefresh(string)           {}
func (Nop) RecordRefreshJoined()           {}
func (Nop) RecordRetry()                   {}
func (Nop) RecordSessionCleared(string)    {}
func (Nop) RecordAPIStatus(int)            {}
func (Nop) RecordAPILatency(time.Duration) {}

// Handler returns an HTTP handler that serves the gathered metrics.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
