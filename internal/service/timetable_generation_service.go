package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/jobs"
	"github.com/noah-isme/sma-timetable-engine/pkg/logger"
)

const generationJobType = "timetable_generation"

// SnapshotLoader reads the immutable resource pool of a timetable.
type SnapshotLoader interface {
	Load(ctx context.Context, timetableID string) (*models.Snapshot, error)
}

// TimetableStore persists terminal results and external conflict resolutions.
type TimetableStore interface {
	SaveResult(ctx context.Context, result *models.GenerationResult) error
	LatestResult(ctx context.Context, timetableID string) (*models.GenerationResult, error)
	ResolveConflict(ctx context.Context, timetableID, conflictID, notes string) error
}

type generationEngine interface {
	ValidateInput(snapshot *models.Snapshot) (models.GenerationSettings, error)
	Generate(ctx context.Context, snapshot *models.Snapshot, progress scheduler.ProgressReporter) *models.GenerationResult
}

// GenerationServiceConfig governs run scheduling.
type GenerationServiceConfig struct {
	Workers          int
	QueueSize        int
	EvalWorkers      int
	TimeLimit        time.Duration
	RunRetention     time.Duration
	SweepSchedule    string
	DefaultAlgorithm models.Algorithm
}

// TimetableGenerationService owns run handles and enforces one active run per timetable.
type TimetableGenerationService struct {
	loader    SnapshotLoader
	store     TimetableStore
	engine    generationEngine
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GenerationServiceConfig
	queue     *jobs.Queue
	cron      *cron.Cron
	now       func() time.Time

	mu     sync.Mutex
	base   context.Context
	stop   context.CancelFunc
	runs   map[string]*RunHandle
	active map[string]string
	latest map[string]*RunHandle
}

// NewTimetableGenerationService wires the engine to its loader, store and cache. store and cache may be nil.
func NewTimetableGenerationService(
	loader SnapshotLoader,
	store TimetableStore,
	engine generationEngine,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GenerationServiceConfig,
) *TimetableGenerationService {
	if engine == nil {
		engine = scheduler.NewEngine()
	}
	if validate == nil {
		validate = models.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.RunRetention <= 0 {
		cfg.RunRetention = time.Hour
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 5m"
	}
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = models.AlgorithmHybrid
	}
	svc := &TimetableGenerationService{
		loader:    loader,
		store:     store,
		engine:    engine,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		base:      context.Background(),
		runs:      make(map[string]*RunHandle),
		active:    make(map[string]string),
		latest:    make(map[string]*RunHandle),
	}
	svc.queue = jobs.NewQueue("timetable-generation", svc.execute, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.QueueSize,
		MaxRetries: 1,
		Logger:     logger,
	})
	return svc
}

// StartWorkers launches the run workers and the retention sweep.
func (s *TimetableGenerationService) StartWorkers(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		if removed := s.Sweep(s.now()); removed > 0 {
			s.logger.Info("swept finished generation runs", zap.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}

	s.mu.Lock()
	s.base, s.stop = context.WithCancel(ctx)
	s.cron = c
	s.mu.Unlock()

	s.queue.Start(ctx)
	c.Start()
	return nil
}

// Shutdown cancels in-flight runs and stops the workers. Runs still waiting
// in the queue end as CANCELLED without touching the engine.
func (s *TimetableGenerationService) Shutdown() {
	s.mu.Lock()
	c, stop := s.cron, s.stop
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	if stop != nil {
		stop()
	}
	s.queue.Stop()
	for _, job := range s.queue.Drain() {
		payload, ok := job.Payload.(generationJob)
		if !ok {
			continue
		}
		s.cancelQueued(payload.handle)
	}
	s.metrics.SetQueueDepth(s.queue.Depth())
}

func (s *TimetableGenerationService) cancelQueued(handle *RunHandle) {
	result := &models.GenerationResult{
		RunID:       handle.ID,
		TimetableID: handle.TimetableID,
		Status:      models.GenerationStatusDraft,
		Schedule:    models.Schedule{},
		Quality:     models.QualityScore{NotApplicable: true},
		Metrics: models.GenerationMetrics{
			Algorithm:   handle.Algorithm,
			Cancelled:   true,
			Termination: models.TerminationCancelled,
		},
	}
	s.metrics.RunFinished(models.RunStatusCancelled, result)
	logger.WithRun(s.logger, handle.ID, handle.TimetableID, string(handle.Algorithm)).Info("queued generation run cancelled by shutdown")

	s.mu.Lock()
	defer s.mu.Unlock()
	handle.finish(models.RunStatusCancelled, result, s.now().UTC())
	if s.active[handle.TimetableID] == handle.ID {
		delete(s.active, handle.TimetableID)
	}
}

// Start validates the snapshot and enqueues a run. overrides replaces the stored settings when set.
func (s *TimetableGenerationService) Start(ctx context.Context, timetableID string, overrides *models.GenerationSettings) (*RunHandle, error) {
	snapshot, err := s.loader.Load(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	snapshot.TimetableID = timetableID
	if overrides != nil {
		snapshot.Settings = *overrides
	}
	s.applyDefaults(&snapshot.Settings)

	if err := snapshot.Settings.WithDefaults().Validate(s.validator); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	settings, err := s.engine.ValidateInput(snapshot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDataError.Code, appErrors.ErrDataError.Status, err.Error())
	}

	s.mu.Lock()
	if runID, ok := s.active[timetableID]; ok {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrRunInProgress, fmt.Sprintf("run %s is still active for timetable %s", runID, timetableID))
	}
	if s.queue.Depth() >= s.cfg.QueueSize {
		s.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "generation queue is full")
	}
	handle := newRunHandle(s.base, uuid.NewString(), timetableID, settings.Algorithm, s.now().UTC())
	s.runs[handle.ID] = handle
	s.active[timetableID] = handle.ID
	s.mu.Unlock()

	job := jobs.Job{ID: handle.ID, Type: generationJobType, Payload: generationJob{handle: handle, snapshot: snapshot}}
	if err := s.queue.Enqueue(job); err != nil {
		s.mu.Lock()
		delete(s.runs, handle.ID)
		delete(s.active, timetableID)
		s.mu.Unlock()
		handle.cancel()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation run")
	}

	s.metrics.RunStarted()
	s.metrics.SetQueueDepth(s.queue.Depth())
	logger.WithRun(s.logger, handle.ID, timetableID, string(settings.Algorithm)).Info("generation run queued")
	return handle, nil
}

// Status returns the handle of a known run.
func (s *TimetableGenerationService) Status(runID string) (*RunHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.runs[runID]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation run not found")
	}
	return handle, nil
}

// Cancel stops a run. Cancelling a finished run is a no-op.
func (s *TimetableGenerationService) Cancel(runID string) (*RunHandle, error) {
	handle, err := s.Status(runID)
	if err != nil {
		return nil, err
	}
	if !handle.Status().Terminal() {
		handle.Cancel()
		logger.WithRun(s.logger, handle.ID, handle.TimetableID, string(handle.Algorithm)).Info("generation run cancellation requested")
	}
	return handle, nil
}

// Result returns the terminal result of a run.
func (s *TimetableGenerationService) Result(runID string) (*models.GenerationResult, error) {
	handle, err := s.Status(runID)
	if err != nil {
		return nil, err
	}
	result := handle.Result()
	if result == nil {
		return nil, appErrors.Clone(appErrors.ErrRunNotFinished, fmt.Sprintf("run %s is %s", runID, handle.Status()))
	}
	return result, nil
}

// LatestResult looks in the cache, then the store, then finished runs still held in memory.
func (s *TimetableGenerationService) LatestResult(ctx context.Context, timetableID string) (*models.GenerationResult, error) {
	if result, ok := s.cache.GetResult(ctx, timetableID); ok {
		return result, nil
	}
	if s.store != nil {
		result, err := s.store.LatestResult(ctx, timetableID)
		if err == nil {
			s.cache.SetResult(ctx, result)
			return result, nil
		}
		if !errors.Is(err, appErrors.ErrNotFound) {
			return nil, err
		}
	}
	s.mu.Lock()
	handle, ok := s.latest[timetableID]
	s.mu.Unlock()
	if ok {
		return handle.Result(), nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable has no generation result")
}

// ResolveConflict records an external resolution on the latest result of a timetable.
func (s *TimetableGenerationService) ResolveConflict(ctx context.Context, timetableID, conflictID, notes string) error {
	s.mu.Lock()
	handle, inMemory := s.latest[timetableID]
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.ResolveConflict(ctx, timetableID, conflictID, notes); err != nil {
			return err
		}
		s.cache.InvalidateResult(ctx, timetableID)
		if inMemory {
			handle.resolveConflict(conflictID, notes)
		}
		return nil
	}
	if !inMemory || !handle.resolveConflict(conflictID, notes) {
		return appErrors.Clone(appErrors.ErrNotFound, "conflict not found on the latest result")
	}
	s.cache.InvalidateResult(ctx, timetableID)
	return nil
}

// Sweep forgets finished runs older than the retention window and returns how many were dropped.
// The latest result of each timetable is kept.
func (s *TimetableGenerationService) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.RunRetention)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, handle := range s.runs {
		if !handle.Status().Terminal() || handle.FinishedAt().After(cutoff) {
			continue
		}
		if latest, ok := s.latest[handle.TimetableID]; ok && latest == handle {
			continue
		}
		delete(s.runs, id)
		removed++
	}
	return removed
}

type generationJob struct {
	handle   *RunHandle
	snapshot *models.Snapshot
}

// execute is the queue handler. Engine failures are already part of the result, so it never asks for a retry.
func (s *TimetableGenerationService) execute(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(generationJob)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", jobs.ErrPermanent, job.Payload)
	}
	handle := payload.handle
	log := logger.WithRun(s.logger, handle.ID, handle.TimetableID, string(handle.Algorithm))

	s.metrics.SetQueueDepth(s.queue.Depth())
	handle.markRunning(s.now().UTC())
	log.Info("generation run started")

	result := s.engine.Generate(handle.ctx, payload.snapshot, handle)
	result.RunID = handle.ID
	result.TimetableID = handle.TimetableID
	status := RunStatusFor(result)

	persistCtx := context.WithoutCancel(ctx)
	if s.store != nil {
		if err := s.store.SaveResult(persistCtx, result); err != nil {
			log.Error("failed to persist generation result", zap.Error(err))
		}
	}
	s.cache.SetResult(persistCtx, result)

	s.metrics.RunFinished(status, result)
	log.Info("generation run finished",
		zap.String("status", string(status)),
		zap.String("result_status", string(result.Status)),
		zap.Int("assignments", len(result.Schedule)),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Duration("duration", result.Metrics.Duration),
		zap.Float64("overall_score", result.Quality.OverallScore),
	)
	s.publish(handle, status, result)
	return nil
}

// publish makes a terminal result visible to readers and frees the timetable for a new run.
func (s *TimetableGenerationService) publish(handle *RunHandle, status models.RunStatus, result *models.GenerationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle.finish(status, result, s.now().UTC())
	if s.active[handle.TimetableID] == handle.ID {
		delete(s.active, handle.TimetableID)
	}
	s.latest[handle.TimetableID] = handle
}

func (s *TimetableGenerationService) applyDefaults(settings *models.GenerationSettings) {
	if settings.Algorithm == "" {
		settings.Algorithm = s.cfg.DefaultAlgorithm
	}
	if settings.TimeLimitMs == 0 && s.cfg.TimeLimit > 0 {
		settings.TimeLimitMs = s.cfg.TimeLimit.Milliseconds()
	}
	if settings.Workers == 0 && s.cfg.EvalWorkers > 0 {
		settings.Workers = s.cfg.EvalWorkers
	}
}
