// Package metrics exposes Prometheus metrics for the generation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
)

// Collector records pipeline metrics. A nil *Collector records nothing.
type Collector struct {
	registry *prometheus.Registry

	generationsTotal    *prometheus.CounterVec
	generationDuration  *prometheus.HistogramVec
	stageDuration       *prometheus.HistogramVec
	acquisitionAttempts prometheus.Histogram
	httpRequestsTotal   *prometheus.CounterVec
	purgedAssetsTotal   prometheus.Counter
}

// NewCollector creates a collector backed by its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		generationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Total number of generation runs by outcome",
			},
			[]string{"strategy", "outcome"},
		),
		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of a full generation run",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"strategy"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of a single pipeline stage",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		acquisitionAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "acquisition_attempts",
				Help:      "Attempts used to acquire a reference track",
				Buckets:   prometheus.LinearBuckets(1, 1, 8),
			},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		purgedAssetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_assets_total",
				Help:      "Total number of expired assets deleted",
			},
		),
	}
}

// RecordGeneration records the outcome of one run. outcome is OutcomeSuccess or a failure reason.
func (c *Collector) RecordGeneration(strategy, outcome string, duration time.Duration) {
	if c == nil {
		return
	}

	c.generationsTotal.WithLabelValues(strategy, outcome).Inc()
	c.generationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveStage records how long one stage of a run took.
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}

	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveAcquisitionAttempts records the attempts one acquisition used.
func (c *Collector) ObserveAcquisitionAttempts(attempts int) {
	if c == nil {
		return
	}

	c.acquisitionAttempts.Observe(float64(attempts))
}

// RecordHTTPRequest counts one served request.
func (c *Collector) RecordHTTPRequest(route string, status int) {
	if c == nil {
		return
	}

	c.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// AddPurged counts deleted expired assets.
func (c *Collector) AddPurged(count int) {
	if c == nil || count <= 0 {
		return
	}

	c.purgedAssetsTotal.Add(float64(count))
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
