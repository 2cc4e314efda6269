package mapres

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/mapres/resource"
)

// Request outcomes used as metric labels.
const (
	outcomeReady       = "ready"
	outcomeUnavailable = "unavailable"
	outcomeFailed      = "failed"
	outcomeCanceled    = "canceled"
)

// metrics holds the engine's Prometheus collectors.
type metrics struct {
	requests       *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadFailures *prometheus.CounterVec
	unloads        *prometheus.CounterVec
	entries        *prometheus.GaugeVec
	sharedGroups   prometheus.Gauge
	syncDuration   prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapres",
			Name:      "requests_total",
			Help:      "Provider requests by resource kind and outcome.",
		}, []string{"kind", "outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapres",
			Name:      "uploads_total",
			Help:      "Resources uploaded to the GPU.",
		}, []string{"kind"}),
		uploadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapres",
			Name:      "upload_failures_total",
			Help:      "Failed GPU uploads; the resource is retried on the next sync.",
		}, []string{"kind"}),
		unloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapres",
			Name:      "unloads_total",
			Help:      "Resources unloaded from the GPU.",
		}, []string{"kind"}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mapres",
			Name:      "entries",
			Help:      "Resource entries by state, sampled at every GPU sync.",
		}, []string{"state"}),
		sharedGroups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mapres",
			Name:      "shared_symbol_groups",
			Help:      "Symbol groups shared between tiles.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mapres",
			Name:      "sync_duration_seconds",
			Help:      "Duration of SyncResourcesInGPU.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("mapres: register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requests, m.uploads, m.uploadFailures, m.unloads, m.entries, m.sharedGroups, m.syncDuration,
	}
}

// unregister removes the collectors from reg.
func (m *metrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *metrics) request(kind resource.Kind, outcome string) {
	m.requests.WithLabelValues(kind.String(), outcome).Inc()
}

// observeStates replaces the entries gauge with counts.
func (m *metrics) observeStates(counts map[resource.State]int) {
	for _, s := range resource.States() {
		m.entries.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
