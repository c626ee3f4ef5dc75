package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/session-insights-api/internal/models"
)

func TestMetricsServiceSnapshot(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)
	m.ObserveTraining("trained", 20*time.Millisecond)
	m.RecordPrediction(models.PredictionOK, "high")
	m.RecordPrediction(models.PredictionInsufficientData, "")
	m.ObserveDBQuery("training_set", 4*time.Millisecond)
	m.AddCacheSwept(3)

	snap := m.Snapshot()
	assert.InDelta(t, 2.0/3.0, snap.CacheHitRatio, 1e-9)
	assert.Equal(t, uint64(1), snap.TrainingRuns)
	assert.Equal(t, uint64(2), snap.Predictions)
	assert.Equal(t, uint64(1), snap.DBQueryCount)
	assert.InDelta(t, 4.0, snap.AverageDBQueryDurationMs, 0.001)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `insights_predictions_total{risk="high",status="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "insights_cache_swept_total 3")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.ObserveTraining("failed", time.Second)
	m.RecordPrediction(models.PredictionOK, "")
	m.AddCacheSwept(1)
	assert.Equal(t, models.InsightsSystemMetrics{}, m.Snapshot())
}
