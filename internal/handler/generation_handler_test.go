package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type snapshotLoaderStub struct {
	snapshot models.Snapshot
}

func (s snapshotLoaderStub) Load(_ context.Context, timetableID string) (*models.Snapshot, error) {
	if timetableID == "missing" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	snapshot := s.snapshot
	return &snapshot, nil
}

// gatedEngine finishes a run only when release is closed.
type gatedEngine struct {
	release chan struct{}
}

func (e *gatedEngine) ValidateInput(snapshot *models.Snapshot) (models.GenerationSettings, error) {
	return snapshot.Settings.WithDefaults(), nil
}

func (e *gatedEngine) Generate(ctx context.Context, _ *models.Snapshot, progress scheduler.ProgressReporter) *models.GenerationResult {
	progress.OnProgress(scheduler.Progress{Percentage: 40, Step: "genetic", Generation: 12, Fitness: 7.5})
	select {
	case <-e.release:
	case <-ctx.Done():
		return &models.GenerationResult{Status: models.GenerationStatusDraft, Metrics: models.GenerationMetrics{Cancelled: true}}
	}
	return &models.GenerationResult{
		Status:   models.GenerationStatusCompleted,
		Schedule: models.Schedule{{Day: models.DayMonday, StartTime: "08:00", EndTime: "09:00", CourseID: "MATH", TeacherID: "T1", ClassroomID: "R1"}},
		Conflicts: []models.Conflict{{
			ID: "c-1", Type: models.ConflictConstraintViolation, Severity: models.SeverityMedium,
		}},
	}
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Meta  map[string]interface{} `json:"meta"`
}

func newGenerationRouter(t *testing.T) (*gin.Engine, *gatedEngine, *service.TimetableGenerationService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := &gatedEngine{release: make(chan struct{})}
	svc := service.NewTimetableGenerationService(snapshotLoaderStub{}, nil, engine, nil, nil, nil, nil, service.GenerationServiceConfig{Workers: 1})
	require.NoError(t, svc.StartWorkers(context.Background()))
	t.Cleanup(svc.Shutdown)

	h := NewGenerationHandler(svc)
	router := gin.New()
	router.POST("/timetables/:id/generate", h.Generate)
	router.GET("/timetables/:id/result", h.LatestResult)
	router.GET("/generation-runs/:runId", h.Status)
	router.DELETE("/generation-runs/:runId", h.Cancel)
	router.GET("/generation-runs/:runId/result", h.Result)
	return router, engine, svc
}

func doRequest(router *gin.Engine, method, path string, body []byte) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestGenerationHandlerLifecycle(t *testing.T) {
	router, engine, svc := newGenerationRouter(t)

	w, env := doRequest(router, http.MethodPost, "/timetables/tt-1/generate", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var run struct {
		RunID     string           `json:"runId"`
		Status    models.RunStatus `json:"status"`
		Algorithm string           `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	require.NotEmpty(t, run.RunID)
	assert.Equal(t, "hybrid", run.Algorithm)

	w, env = doRequest(router, http.MethodPost, "/timetables/tt-1/generate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrRunInProgress.Code, env.Error.Code)

	w, env = doRequest(router, http.MethodGet, "/generation-runs/"+run.RunID+"/result", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrRunNotFinished.Code, env.Error.Code)

	handle, err := svc.Status(run.RunID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return handle.Progress().Percentage == 40 }, 5*time.Second, 10*time.Millisecond)

	w, env = doRequest(router, http.MethodGet, "/generation-runs/"+run.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"generation":12`)
	assert.Contains(t, string(env.Data), `"status":"RUNNING"`)

	close(engine.release)
	<-handle.Done()

	w, env = doRequest(router, http.MethodGet, "/generation-runs/"+run.RunID+"/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result models.GenerationResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, run.RunID, result.RunID)
	assert.Equal(t, models.GenerationStatusCompleted, result.Status)
	assert.EqualValues(t, 1, env.Meta["assignments"])

	w, _ = doRequest(router, http.MethodGet, "/timetables/tt-1/result", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerationHandlerCancel(t *testing.T) {
	router, _, svc := newGenerationRouter(t)

	w, env := doRequest(router, http.MethodPost, "/timetables/tt-1/generate", []byte(`{"settings":{"algorithm":"genetic"}}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	var run struct {
		RunID     string `json:"runId"`
		Algorithm string `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "genetic", run.Algorithm)

	w, _ = doRequest(router, http.MethodDelete, "/generation-runs/"+run.RunID, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	handle, err := svc.Status(run.RunID)
	require.NoError(t, err)
	<-handle.Done()
	assert.Equal(t, models.RunStatusCancelled, handle.Status())
}

func TestGenerationHandlerErrors(t *testing.T) {
	router, _, _ := newGenerationRouter(t)

	w, env := doRequest(router, http.MethodPost, "/timetables/tt-1/generate", []byte(`{"settings":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)

	w, _ = doRequest(router, http.MethodPost, "/timetables/tt-1/generate", []byte(`{"settings":{"algorithm":"quantum"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doRequest(router, http.MethodPost, "/timetables/tt-1/generate", []byte(`{"settings":{"startTime":"15:00","endTime":"08:00"}}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = doRequest(router, http.MethodPost, "/timetables/missing/generate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, env.Error.Code)

	w, _ = doRequest(router, http.MethodGet, "/generation-runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doRequest(router, http.MethodGet, "/timetables/tt-9/result", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
