package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// QueueMetrics contains Prometheus metrics for the pending scan queue.
type QueueMetrics struct {
	items          *prometheus.GaugeVec
	processedTotal *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	drainsTotal    prometheus.Counter
	enqueuedTotal  *prometheus.CounterVec
	notifyErrors   *prometheus.CounterVec
	online         prometheus.Gauge
}

// NewQueueMetrics creates and registers the queue metrics.
func NewQueueMetrics(registry *prometheus.Registry) (*QueueMetrics, error) {
	m := &QueueMetrics{
		items: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leafscan_pending_items",
			Help: "Pending scan items by status",
		}, []string{"status"}),
		processedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafscan_pending_processed_total",
			Help: "Processed pending scans by outcome",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leafscan_scan_duration_seconds",
			Help:    "Duration of scan processing requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		drainsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafscan_pending_drains_total",
			Help: "Number of drain runs started",
		}),
		enqueuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafscan_pending_enqueued_total",
			Help: "Scans converted to pending items by reason",
		}, []string{"reason"}),
		notifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafscan_notify_errors_total",
			Help: "Failed drain summary notifications by sink",
		}, []string{"sink"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafscan_connectivity_online",
			Help: "Current connectivity state (1 online, 0 offline)",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register queue metrics: %w", err)
	}
	return m, nil
}

func (m *QueueMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.items, m.processedTotal, m.scanDuration, m.drainsTotal,
		m.enqueuedTotal, m.notifyErrors, m.online,
	}
}

// Describe implements prometheus.Collector.
func (m *QueueMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *QueueMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// SetItems reports the number of items in a status.
func (m *QueueMetrics) SetItems(status string, n int) {
	if m == nil {
		return
	}
	m.items.WithLabelValues(status).Set(float64(n))
}

// RecordProcessed counts one processed item and the scan duration in seconds.
func (m *QueueMetrics) RecordProcessed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.processedTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(seconds)
}

// RecordDrain counts a drain run.
func (m *QueueMetrics) RecordDrain() {
	if m == nil {
		return
	}
	m.drainsTotal.Inc()
}

// RecordEnqueued counts a scan converted into a pending item.
func (m *QueueMetrics) RecordEnqueued(reason string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(reason).Inc()
}

// RecordNotifyError counts a failed notification.
func (m *QueueMetrics) RecordNotifyError(sink string) {
	if m == nil {
		return
	}
	m.notifyErrors.WithLabelValues(sink).Inc()
}

// SetOnline reports the connectivity state.
func (m *QueueMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
	} else {
		m.online.Set(0)
	}
}
