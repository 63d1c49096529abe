// Package metrics provides custom Prometheus metrics for the leafscan components.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics contains Prometheus metrics for the on-device database.
type StorageMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	schemaResets      prometheus.Counter
	writerQueueDepth  prometheus.Gauge
}

// NewStorageMetrics creates and registers the storage metrics.
func NewStorageMetrics(registry *prometheus.Registry) (*StorageMetrics, error) {
	m := &StorageMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafscan_storage_operations_total",
			Help: "Total number of on-device database operations",
		}, []string{"operation", "table", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leafscan_storage_operation_duration_seconds",
			Help:    "Duration of on-device database operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"operation", "table"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leafscan_storage_errors_total",
			Help: "Total number of on-device database errors",
		}, []string{"operation", "kind"}),
		schemaResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leafscan_storage_schema_resets_total",
			Help: "Number of times the database was recreated after a schema version mismatch",
		}),
		writerQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leafscan_storage_writer_queue_depth",
			Help: "Number of write batches waiting for the background writer",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register storage metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *StorageMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.schemaResets.Describe(ch)
	m.writerQueueDepth.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *StorageMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.schemaResets.Collect(ch)
	m.writerQueueDepth.Collect(ch)
}

// RecordOperation counts one operation and its duration in seconds.
func (m *StorageMetrics) RecordOperation(operation, table, status string, seconds float64) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, table, status).Inc()
	m.operationDuration.WithLabelValues(operation, table).Observe(seconds)
}

// RecordError counts a failed operation by error kind.
func (m *StorageMetrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordSchemaReset counts a destructive version reset.
func (m *StorageMetrics) RecordSchemaReset() {
	if m == nil {
		return
	}
	m.schemaResets.Inc()
}

// SetWriterQueueDepth reports the pending write batches.
func (m *StorageMetrics) SetWriterQueueDepth(n int) {
	if m == nil {
		return
	}
	m.writerQueueDepth.Set(float64(n))
}
