// Package metrics exposes operation, blob store and notification metrics in
// Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eniz1806/CloudEmu/internal/apierr"
	"github.com/eniz1806/CloudEmu/internal/storage"
)

const namespace = "cloudemu"

// BlobStats reports the blob population.
type BlobStats interface {
	Stats() storage.Stats
}

// RowCounter reports catalog row counts per table.
type RowCounter interface {
	BucketStats() (map[string]int, error)
}

// Collector tracks dispatcher and delivery metrics on a private registry.
type Collector struct {
	registry      *prometheus.Registry
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	notifications *prometheus.CounterVec
	throttled     *prometheus.CounterVec
	startTime     time.Time
}

func NewCollector(blobs BlobStats, rows RowCounter) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Dispatched operations by service, action and outcome.",
		}, []string{"service", "action", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency by service and action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "action"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Operations currently executing.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Finished notification deliveries by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "throttled_requests_total",
			Help:      "Requests rejected by the rate limiter, by service.",
		}, []string{"service"}),
		startTime: time.Now(),
	}
	c.registry.MustRegister(
		c.operations, c.latency, c.inFlight, c.notifications, c.throttled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the server started.",
		}, func() float64 { return time.Since(c.startTime).Seconds() }),
	)
	if blobs != nil {
		c.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blobs",
				Help:      "Blobs held by the blob store.",
			}, func() float64 { return float64(blobs.Stats().Blobs) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blob_bytes",
				Help:      "Bytes held by the blob store.",
			}, func() float64 { return float64(blobs.Stats().Bytes) }),
		)
	}
	if rows != nil {
		c.registry.MustRegister(&rowCollector{rows: rows})
	}
	return c
}

// StartTime returns when the collector was created (server start time).
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Outcome labels an operation result: "ok" or the failure kind.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apierr.KindOf(err).String()
}

// ObserveOperation records one finished operation.
func (c *Collector) ObserveOperation(service, action string, err error, d time.Duration) {
	c.operations.WithLabelValues(service, action, Outcome(err)).Inc()
	c.latency.WithLabelValues(service, action).Observe(d.Seconds())
}

// Begin marks an operation as started and returns its completion func.
func (c *Collector) Begin() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// ObserveDelivery records a finished notification delivery.
func (c *Collector) ObserveDelivery(protocol string, delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	c.notifications.WithLabelValues(protocol, outcome).Inc()
}

// ObserveThrottled records a request turned away by the rate limiter.
func (c *Collector) ObserveThrottled(service string) {
	c.throttled.WithLabelValues(service).Inc()
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

var rowsDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "catalog", "rows"),
	"Catalog rows per table across all namespaces.",
	[]string{"table"}, nil,
)

// rowCollector reads catalog row counts at scrape time.
type rowCollector struct {
	rows RowCounter
}

func (r *rowCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- rowsDesc
}

func (r *rowCollector) Collect(ch chan<- prometheus.Metric) {
	stats, err := r.rows.BucketStats()
	if err != nil {
		return
	}
	for table, n := range stats {
		ch <- prometheus.MustNewConstMetric(rowsDesc, prometheus.GaugeValue, float64(n), table)
	}
}
