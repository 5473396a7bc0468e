package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestMetricsServiceTracksRunLifecycle(t *testing.T) {
	m := NewMetricsService()
	m.RunStarted()
	m.RunStarted()
	m.SetQueueDepth(1)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.queueDepth))

	m.RunFinished(models.RunStatusCompleted, &models.GenerationResult{
		Metrics: models.GenerationMetrics{Algorithm: models.AlgorithmGreedy, Duration: 40 * time.Millisecond, FinalFitness: 12},
		Conflicts: []models.Conflict{
			{Type: models.ConflictTeacher, Severity: models.SeverityHigh},
			{Type: models.ConflictTeacher, Severity: models.SeverityHigh},
		},
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsTotal.WithLabelValues("greedy", "COMPLETED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.conflictsTotal.WithLabelValues("teacher_conflict", "high")))

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.RunsStarted)
	assert.Equal(t, uint64(1), snap.RunsFinished)
	assert.Equal(t, int64(1), snap.ActiveRuns)
	assert.InDelta(t, 40.0, snap.AverageRunDurationMs, 0.001)
}

func TestMetricsServiceCacheRatio(t *testing.T) {
	m := NewMetricsService()
	m.RecordCacheOperation(true, time.Millisecond)
	m.RecordCacheOperation(false, time.Millisecond)
	m.RecordCacheOperation(true, time.Millisecond)

	assert.InDelta(t, 2.0/3.0, testutil.ToFloat64(m.cacheHitRatio), 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Snapshot().CacheHitRatio, 1e-9)
}

func TestNilMetricsServiceIsSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.RunFinished(models.RunStatusFailed, nil)
		m.SetQueueDepth(3)
		m.ObserveHTTPRequest("GET", "/health", 200, time.Millisecond)
		m.RecordCacheOperation(true, time.Millisecond)
	})
	assert.Equal(t, MetricsSnapshot{}, m.Snapshot())
}
