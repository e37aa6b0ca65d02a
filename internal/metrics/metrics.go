// Package metrics defines the Prometheus collectors shared across the
// matching pipeline, queue runner, and distributor client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "partfinder"

// Metrics bundles every collector the service records. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	queueDepth         prometheus.Gauge
	projectsProcessed  *prometheus.CounterVec
	itemsProcessed     *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	distributorCalls   *prometheus.CounterVec
	distributorRetries prometheus.Counter
	llmCalls           *prometheus.CounterVec
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of projects currently queued.",
		}),
		projectsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projects_processed_total",
			Help:      "Projects finalized, by final status.",
		}, []string{"status"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "BOM items that reached a terminal match status.",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_cache_hits_total",
			Help:      "Distributor searches served from the response cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_cache_misses_total",
			Help:      "Distributor searches that went to the remote API.",
		}),
		distributorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_requests_total",
			Help:      "Remote distributor API requests, by search type.",
		}, []string{"search_type"}),
		distributorRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distributor_retries_total",
			Help:      "Distributor request retry attempts.",
		}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "LLM completions requested, by prompt kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.queueDepth,
		m.projectsProcessed,
		m.itemsProcessed,
		m.cacheHits,
		m.cacheMisses,
		m.distributorCalls,
		m.distributorRetries,
		m.llmCalls,
	)

	return m
}

// SetQueueDepth records the current number of queued projects.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordProjectProcessed counts a project reaching a final status.
func (m *Metrics) RecordProjectProcessed(status string) {
	if m == nil {
		return
	}
	m.projectsProcessed.WithLabelValues(status).Inc()
}

// RecordItemProcessed counts a BOM item reaching a terminal status.
func (m *Metrics) RecordItemProcessed(status string) {
	if m == nil {
		return
	}
	m.itemsProcessed.WithLabelValues(status).Inc()
}

// RecordCacheHit counts a distributor search served from cache.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts a distributor search that reached the remote API.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// RecordDistributorCall counts one remote request by search type.
func (m *Metrics) RecordDistributorCall(searchType string) {
	if m == nil {
		return
	}
	m.distributorCalls.WithLabelValues(searchType).Inc()
}

// RecordDistributorRetry counts one retry attempt.
func (m *Metrics) RecordDistributorRetry() {
	if m == nil {
		return
	}
	m.distributorRetries.Inc()
}

// RecordLLMCall counts one LLM completion by prompt kind.
func (m *Metrics) RecordLLMCall(kind string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(kind).Inc()
}
