package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leafscan/leafscan/internal/observability/metrics"
)

func TestMetricsExposeComponentSeries(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Sync.RecordPush("trees", "update")
	m.Queue.RecordProcessed("succeeded", 1.5)
	m.Storage.RecordSchemaReset()

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `leafscan_sync_pushes_total{entity="trees",operation="update"} 1`)
	assert.Contains(t, string(body), `leafscan_pending_processed_total{outcome="succeeded"} 1`)
	assert.Contains(t, string(body), "leafscan_storage_schema_resets_total 1")
}

func TestNilMetricSetsAreNoOps(t *testing.T) {
	t.Parallel()

	var s *metrics.SyncMetrics
	var q *metrics.QueueMetrics
	var st *metrics.StorageMetrics
	assert.NotPanics(t, func() {
		s.RecordPush("trees", "create")
		q.SetOnline(true)
		st.RecordOperation("put", "trees", "ok", 0.01)
	})

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Queue.SetOnline(true)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Queue, "leafscan_connectivity_online"))
}

func TestPendingItemGaugesByStatus(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Queue.SetItems("queued", 3)
	m.Queue.SetItems("failed", 1)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var family *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "leafscan_pending_items" {
			family = f
		}
	}
	require.NotNil(t, family)
	assert.Equal(t, dto.MetricType_GAUGE, family.GetType())

	got := map[string]float64{}
	for _, metric := range family.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "status" {
				got[label.GetValue()] = metric.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{"queued": 3, "failed": 1}, got)
}
