package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type resolverMock struct {
	notes string
}

func (m *resolverMock) ResolveConflict(_ context.Context, timetableID, conflictID, notes string) error {
	if conflictID == "missing" {
		return appErrors.Clone(appErrors.ErrNotFound, "conflict not found")
	}
	m.notes = notes
	return nil
}

func newConflictRouter(resolver *resolverMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewConflictHandler(service.NewConflictService(resolver, nil, nil))
	router := gin.New()
	router.POST("/conflicts/detect", h.Detect)
	router.POST("/quality/score", h.Score)
	router.PATCH("/timetables/:id/conflicts/:conflictId/resolve", h.Resolve)
	return router
}

const overlappingSchedule = `{"schedule":[
	{"day":"Monday","startTime":"09:00","endTime":"10:00","courseId":"C1","teacherId":"T","classroomId":"R1"},
	{"day":"Monday","startTime":"09:30","endTime":"10:30","courseId":"C2","teacherId":"T","classroomId":"R2"}
]}`

func TestConflictHandlerDetect(t *testing.T) {
	router := newConflictRouter(&resolverMock{})

	w, env := doRequest(router, http.MethodPost, "/conflicts/detect", []byte(overlappingSchedule))
	require.Equal(t, http.StatusOK, w.Code)
	var report service.ConflictReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, models.ConflictTeacher, report.Conflicts[0].Type)
	assert.Equal(t, "Monday_09:30_10:00", report.Conflicts[0].InvolvedEntities.TimeSlot)
	assert.Equal(t, 1, report.Hard)

	w, env = doRequest(router, http.MethodPost, "/conflicts/detect", []byte(`{"schedule":[{"day":"Monday","startTime":"9","endTime":"10:00","courseId":"C1"}]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, env.Error.Code)
}

func TestConflictHandlerScore(t *testing.T) {
	router := newConflictRouter(&resolverMock{})

	w, env := doRequest(router, http.MethodPost, "/quality/score", []byte(overlappingSchedule))
	require.Equal(t, http.StatusOK, w.Code)
	var score models.QualityScore
	require.NoError(t, json.Unmarshal(env.Data, &score))
	assert.InDelta(t, 50.0, score.ConstraintCompliance, 0.001)
	assert.True(t, score.Estimated)

	w, _ = doRequest(router, http.MethodPost, "/quality/score", []byte(`{"schedule":[]}`))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConflictHandlerResolve(t *testing.T) {
	resolver := &resolverMock{}
	router := newConflictRouter(resolver)

	w, _ := doRequest(router, http.MethodPatch, "/timetables/tt-1/conflicts/c-1/resolve", []byte(`{"notes":"moved MATH to Friday"}`))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "moved MATH to Friday", resolver.notes)

	w, env := doRequest(router, http.MethodPatch, "/timetables/tt-1/conflicts/missing/resolve", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, appErrors.ErrNotFound.Code, env.Error.Code)
}
