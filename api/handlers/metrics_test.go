package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/pipeline"
)

type fakeStats struct{ stats pipeline.Stats }

func (f fakeStats) Stats() pipeline.Stats { return f.stats }

func newTestCollector() *metrics.Collector {
	return metrics.NewCollector(metrics.Config{Namespace: "handlers_test", WindowSize: 100}, prometheus.NewRegistry(), zap.NewNop())
}

func TestMetricsHandler_Summary(t *testing.T) {
	c := newTestCollector()
	c.RecordRequest(3, 10)
	c.RecordRequest(1, 20)
	h := NewMetricsHandler(c, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleSummary(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/summary", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var s metrics.Summary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, int64(4), s.QueryCount)
	assert.InDelta(t, 15.0, s.AvgMs, 1e-9)
}

func TestMetricsHandler_Reset(t *testing.T) {
	c := newTestCollector()
	c.RecordRequest(3, 10)
	h := NewMetricsHandler(c, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleReset(w, httptest.NewRequest(http.MethodGet, "/api/v1/metrics/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, int64(1), c.Summary().Count)

	w = httptest.NewRecorder()
	h.HandleReset(w, httptest.NewRequest(http.MethodPost, "/api/v1/metrics/reset", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, c.Summary().Count)
	assert.Zero(t, c.Summary().QueryCount)
}

func TestMetricsHandler_Stats(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := NewMetricsHandler(newTestCollector(), nil, zap.NewNop())
		w := httptest.NewRecorder()
		h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("snapshot", func(t *testing.T) {
		stats := pipeline.Stats{Ready: true, Batching: true, Dispatched: 7}
		h := NewMetricsHandler(newTestCollector(), fakeStats{stats}, zap.NewNop())
		w := httptest.NewRecorder()
		h.HandleStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var got pipeline.Stats
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.True(t, got.Ready)
		assert.Equal(t, int64(7), got.Dispatched)
	})
}
