package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type stubSnapshotLoader struct {
	snapshots map[string]models.Snapshot
}

func (s *stubSnapshotLoader) Load(_ context.Context, timetableID string) (*models.Snapshot, error) {
	snapshot, ok := s.snapshots[timetableID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	snapshot.Courses = append([]models.Course(nil), snapshot.Courses...)
	return &snapshot, nil
}

type stubTimetableStore struct {
	mu       sync.Mutex
	saved    []*models.GenerationResult
	saveErr  error
	resolved []string
}

func (s *stubTimetableStore) SaveResult(_ context.Context, result *models.GenerationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, result)
	return nil
}

func (s *stubTimetableStore) LatestResult(_ context.Context, timetableID string) (*models.GenerationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].TimetableID == timetableID {
			return s.saved[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "no result")
}

func (s *stubTimetableStore) ResolveConflict(_ context.Context, _, conflictID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, conflictID)
	return nil
}

// blockingEngine holds every run until its context is cancelled.
type blockingEngine struct {
	started chan string
}

func (e *blockingEngine) ValidateInput(snapshot *models.Snapshot) (models.GenerationSettings, error) {
	return snapshot.Settings.WithDefaults(), nil
}

func (e *blockingEngine) Generate(ctx context.Context, snapshot *models.Snapshot, _ scheduler.ProgressReporter) *models.GenerationResult {
	e.started <- snapshot.TimetableID
	<-ctx.Done()
	return &models.GenerationResult{
		Status:   models.GenerationStatusDraft,
		Schedule: models.Schedule{},
		Metrics:  models.GenerationMetrics{Cancelled: true, Termination: models.TerminationCancelled},
	}
}

type fixedEngine struct {
	result models.GenerationResult
}

func (e *fixedEngine) ValidateInput(snapshot *models.Snapshot) (models.GenerationSettings, error) {
	return snapshot.Settings.WithDefaults(), nil
}

func (e *fixedEngine) Generate(_ context.Context, _ *models.Snapshot, progress scheduler.ProgressReporter) *models.GenerationResult {
	progress.OnProgress(scheduler.Progress{Percentage: 100, Step: "completed"})
	result := e.result
	result.Conflicts = append([]models.Conflict(nil), e.result.Conflicts...)
	return &result
}

func serviceSnapshot() models.Snapshot {
	return models.Snapshot{
		Teachers: []models.Teacher{
			{ID: "T1", Name: "Ana", MaxHoursPerWeek: 10},
			{ID: "T2", Name: "Budi", MaxHoursPerWeek: 10},
		},
		Classrooms: []models.Classroom{
			{ID: "R1", Capacity: 40, Status: models.ClassroomAvailable},
			{ID: "LAB", Capacity: 30, Features: []string{"lab"}, Status: models.ClassroomAvailable},
		},
		Courses: []models.Course{
			{ID: "MATH", RequiredSessions: 2, SessionType: models.SessionLecture, AssignedTeachers: []string{"T1"}, EnrolledStudents: 30, DivisionID: "X"},
			{ID: "BIO", RequiredSessions: 2, SessionType: models.SessionLab, AssignedTeachers: []string{"T2"}, EnrolledStudents: 25, DivisionID: "X"},
		},
		Settings: models.GenerationSettings{
			Algorithm:   models.AlgorithmGreedy,
			WorkingDays: []models.Day{models.DayMonday, models.DayTuesday},
			StartTime:   "08:00",
			EndTime:     "12:00",
		},
	}
}

func newTestGenerationService(t *testing.T, engine generationEngine, store TimetableStore, cache *CacheService) *TimetableGenerationService {
	t.Helper()
	loader := &stubSnapshotLoader{snapshots: map[string]models.Snapshot{
		"tt-1": serviceSnapshot(),
		"tt-2": serviceSnapshot(),
	}}
	svc := NewTimetableGenerationService(loader, store, engine, cache, NewMetricsService(), nil, zap.NewNop(), GenerationServiceConfig{
		Workers:   2,
		QueueSize: 4,
	})
	require.NoError(t, svc.StartWorkers(context.Background()))
	t.Cleanup(svc.Shutdown)
	return svc
}

func waitDone(t *testing.T, handle *RunHandle) {
	t.Helper()
	select {
	case <-handle.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("run %s did not finish", handle.ID)
	}
}

func TestGenerationServiceRunsToCompletion(t *testing.T) {
	store := &stubTimetableStore{}
	cache := NewCacheService(&stubCacheRepo{}, nil, time.Minute, nil, true)
	svc := newTestGenerationService(t, scheduler.NewEngine(), store, cache)

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmGreedy, handle.Algorithm)
	waitDone(t, handle)

	assert.Equal(t, models.RunStatusCompleted, handle.Status())
	assert.Equal(t, 100.0, handle.Progress().Percentage)
	assert.False(t, handle.FinishedAt().IsZero())

	result, err := svc.Result(handle.ID)
	require.NoError(t, err)
	assert.Equal(t, handle.ID, result.RunID)
	assert.Equal(t, "tt-1", result.TimetableID)
	assert.Equal(t, models.GenerationStatusCompleted, result.Status)
	assert.Len(t, result.Schedule, 4)
	assert.Empty(t, result.Conflicts)

	require.Len(t, store.saved, 1)
	assert.Equal(t, handle.ID, store.saved[0].RunID)

	latest, err := svc.LatestResult(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Equal(t, handle.ID, latest.RunID)
}

func TestGenerationServiceRejectsSecondActiveRun(t *testing.T) {
	engine := &blockingEngine{started: make(chan string, 4)}
	svc := newTestGenerationService(t, engine, nil, nil)

	first, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	<-engine.started

	_, err = svc.Start(context.Background(), "tt-1", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRunInProgress.Code, appErrors.FromError(err).Code)

	other, err := svc.Start(context.Background(), "tt-2", nil)
	require.NoError(t, err)
	<-engine.started

	_, err = svc.Result(first.ID)
	assert.Equal(t, appErrors.ErrRunNotFinished.Code, appErrors.FromError(err).Code)

	_, err = svc.Cancel(first.ID)
	require.NoError(t, err)
	waitDone(t, first)
	assert.Equal(t, models.RunStatusCancelled, first.Status())
	assert.Equal(t, models.RunStatusRunning, other.Status())

	again, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	<-engine.started

	other.Cancel()
	again.Cancel()
	waitDone(t, other)
	waitDone(t, again)
}

func TestGenerationServiceShutdownCancelsQueuedRuns(t *testing.T) {
	engine := &blockingEngine{started: make(chan string, 4)}
	loader := &stubSnapshotLoader{snapshots: map[string]models.Snapshot{
		"tt-1": serviceSnapshot(),
		"tt-2": serviceSnapshot(),
	}}
	svc := NewTimetableGenerationService(loader, nil, engine, nil, NewMetricsService(), nil, zap.NewNop(), GenerationServiceConfig{
		Workers:   1,
		QueueSize: 4,
	})
	require.NoError(t, svc.StartWorkers(context.Background()))

	running, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	<-engine.started
	queued, err := svc.Start(context.Background(), "tt-2", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, queued.Status())

	svc.Shutdown()
	waitDone(t, running)
	waitDone(t, queued)

	assert.Equal(t, models.RunStatusCancelled, running.Status())
	assert.Equal(t, models.RunStatusCancelled, queued.Status())
	result, err := svc.Result(queued.ID)
	require.NoError(t, err)
	assert.True(t, result.Metrics.Cancelled)
	assert.Equal(t, models.TerminationCancelled, result.Metrics.Termination)
	assert.Empty(t, svc.active)
	assert.Len(t, engine.started, 0)
}

func TestGenerationServiceValidatesBeforeQueueing(t *testing.T) {
	svc := newTestGenerationService(t, scheduler.NewEngine(), nil, nil)

	_, err := svc.Start(context.Background(), "tt-1", &models.GenerationSettings{StartTime: "13:00", EndTime: "09:00"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	loader := svc.loader.(*stubSnapshotLoader)
	broken := serviceSnapshot()
	broken.Courses[0].AssignedTeachers = []string{"nobody"}
	loader.snapshots["broken"] = broken
	_, err = svc.Start(context.Background(), "broken", nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDataError.Code, appErrors.FromError(err).Code)

	_, err = svc.Start(context.Background(), "missing", nil)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Status("unknown")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	_, err = svc.Cancel("unknown")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGenerationServiceAppliesConfiguredDefaults(t *testing.T) {
	engine := &fixedEngine{result: models.GenerationResult{Status: models.GenerationStatusCompleted}}
	loader := &stubSnapshotLoader{snapshots: map[string]models.Snapshot{"tt-1": {}}}
	svc := NewTimetableGenerationService(loader, nil, engine, nil, nil, nil, nil, GenerationServiceConfig{
		DefaultAlgorithm: models.AlgorithmCSP,
		TimeLimit:        2 * time.Second,
		EvalWorkers:      3,
	})
	require.NoError(t, svc.StartWorkers(context.Background()))
	defer svc.Shutdown()

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.AlgorithmCSP, handle.Algorithm)
	waitDone(t, handle)
	assert.Equal(t, models.RunStatusCompleted, handle.Status())

	settings := models.GenerationSettings{}
	svc.applyDefaults(&settings)
	assert.Equal(t, int64(2000), settings.TimeLimitMs)
	assert.Equal(t, 3, settings.Workers)
}

func TestGenerationServiceMarksFailedRuns(t *testing.T) {
	engine := &fixedEngine{result: models.GenerationResult{
		Status:   models.GenerationStatusDraft,
		Schedule: models.Schedule{},
		Conflicts: []models.Conflict{{
			ID:          "c-1",
			Type:        models.ConflictSystemError,
			Severity:    models.SeverityCritical,
			Description: "genetic solver panicked",
		}},
		Metrics: models.GenerationMetrics{Termination: models.TerminationFailed},
	}}
	store := &stubTimetableStore{saveErr: errors.New("db down")}
	svc := newTestGenerationService(t, engine, store, nil)

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, handle)

	assert.Equal(t, models.RunStatusFailed, handle.Status())
	assert.Equal(t, models.GenerationStatusDraft, handle.Result().Status)
}

func TestGenerationServiceResolvesConflictsInMemory(t *testing.T) {
	engine := &fixedEngine{result: models.GenerationResult{
		Status: models.GenerationStatusCompleted,
		Conflicts: []models.Conflict{{
			ID:       "pref-1",
			Type:     models.ConflictConstraintViolation,
			Severity: models.SeverityMedium,
		}},
	}}
	svc := newTestGenerationService(t, engine, nil, nil)

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, handle)

	require.NoError(t, svc.ResolveConflict(context.Background(), "tt-1", "pref-1", "moved to Friday"))
	latest, err := svc.LatestResult(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.True(t, latest.Conflicts[0].Resolved)
	assert.Equal(t, "moved to Friday", latest.Conflicts[0].ResolutionNotes)

	err = svc.ResolveConflict(context.Background(), "tt-1", "missing", "")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.LatestResult(context.Background(), "tt-2")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGenerationServiceResolveLeavesEarlierResultsUntouched(t *testing.T) {
	engine := &fixedEngine{result: models.GenerationResult{
		Status: models.GenerationStatusCompleted,
		Conflicts: []models.Conflict{
			{ID: "dup", Type: models.ConflictTeacher, Severity: models.SeverityHigh},
			{ID: "dup", Type: models.ConflictTeacher, Severity: models.SeverityHigh},
		},
	}}
	svc := newTestGenerationService(t, engine, nil, nil)

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, handle)
	before, err := svc.Result(handle.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, c := range before.Conflicts {
				_ = c.Resolved
			}
		}()
	}
	require.NoError(t, svc.ResolveConflict(context.Background(), "tt-1", "dup", "split the class"))
	wg.Wait()

	assert.False(t, before.Conflicts[0].Resolved)
	after, err := svc.Result(handle.ID)
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	for _, c := range after.Conflicts {
		assert.True(t, c.Resolved)
		assert.Equal(t, "split the class", c.ResolutionNotes)
	}
}

func TestGenerationServiceResolvesConflictsThroughStore(t *testing.T) {
	store := &stubTimetableStore{}
	repo := &stubCacheRepo{}
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	svc := newTestGenerationService(t, &fixedEngine{result: models.GenerationResult{Status: models.GenerationStatusCompleted}}, store, cache)

	handle, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, handle)
	require.Contains(t, repo.store, ResultKey("tt-1"))

	require.NoError(t, svc.ResolveConflict(context.Background(), "tt-1", "c-9", "ok"))
	assert.Equal(t, []string{"c-9"}, store.resolved)
	assert.NotContains(t, repo.store, ResultKey("tt-1"))
}

func TestGenerationServiceSweepKeepsLatestRun(t *testing.T) {
	svc := newTestGenerationService(t, &fixedEngine{result: models.GenerationResult{Status: models.GenerationStatusCompleted}}, nil, nil)

	first, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, first)
	second, err := svc.Start(context.Background(), "tt-1", nil)
	require.NoError(t, err)
	waitDone(t, second)

	assert.Equal(t, 0, svc.Sweep(time.Now()))
	assert.Equal(t, 1, svc.Sweep(time.Now().Add(2*time.Hour)))

	_, err = svc.Status(first.ID)
	assert.Error(t, err)
	_, err = svc.Status(second.ID)
	assert.NoError(t, err)
}

func TestGenerationServiceRejectsBadSweepSchedule(t *testing.T) {
	svc := NewTimetableGenerationService(&stubSnapshotLoader{}, nil, &fixedEngine{}, nil, nil, nil, nil, GenerationServiceConfig{SweepSchedule: "every tuesday"})
	assert.Error(t, svc.StartWorkers(context.Background()))
}
