package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// Engine turns a snapshot into exactly one terminal GenerationResult. It keeps no
// state between runs, so one engine may serve concurrent runs for different timetables.
type Engine struct {
	validate *validator.Validate
	now      func() time.Time
	solvers  func(models.GenerationSettings) (Solver, error)
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source for metrics.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSolverFactory overrides solver dispatch.
func WithSolverFactory(factory func(models.GenerationSettings) (Solver, error)) EngineOption {
	return func(e *Engine) {
		if factory != nil {
			e.solvers = factory
		}
	}
}

// NewEngine constructs an engine with the default solver dispatch.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		validate: models.NewValidator(),
		now:      time.Now,
		solvers:  NewSolver,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ValidateInput checks settings and snapshot before any search starts.
func (e *Engine) ValidateInput(snapshot *models.Snapshot) (models.GenerationSettings, error) {
	if snapshot == nil {
		return models.GenerationSettings{}, fmt.Errorf("%w: snapshot is required", ErrInvalidSnapshot)
	}
	settings := snapshot.Settings.WithDefaults()
	if err := settings.Validate(e.validate); err != nil {
		return settings, fmt.Errorf("%w: settings: %v", ErrInvalidSnapshot, err)
	}
	if err := NewConstraintSet(settings).Validate(); err != nil {
		return settings, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := ValidateSnapshot(snapshot); err != nil {
		return settings, err
	}
	return settings, nil
}

// Generate runs the configured algorithm. It always returns a terminal result: data
// errors, solver failures and panics become critical conflicts on a draft result.
func (e *Engine) Generate(ctx context.Context, snapshot *models.Snapshot, progress ProgressReporter) (result *models.GenerationResult) {
	reporter := newSafeReporter(progress)
	started := e.now()
	metrics := models.GenerationMetrics{StartTime: started}
	if snapshot != nil {
		metrics.Algorithm = snapshot.Settings.WithDefaults().Algorithm
	}

	defer func() {
		if r := recover(); r != nil {
			result = e.failure(snapshot, metrics, systemError(fmt.Sprintf("unexpected engine fault: %v", r)))
		}
	}()

	reporter.OnProgress(Progress{Percentage: 0, Step: "validating snapshot"})
	settings, err := e.ValidateInput(snapshot)
	if err != nil {
		return e.failure(snapshot, metrics, dataError(err))
	}
	metrics.Algorithm = settings.Algorithm

	reporter.OnProgress(Progress{Percentage: 5, Step: "building search space"})
	problem, err := BuildProblem(snapshot, settings)
	if err != nil {
		return e.failure(snapshot, metrics, dataError(err))
	}

	if problem.SessionCount() == 0 {
		reporter.OnProgress(Progress{Percentage: 100, Step: "nothing to schedule"})
		return e.finish(problem, nil, &Outcome{Termination: models.TerminationCompleted}, metrics, reporter)
	}

	solver, err := e.solvers(settings)
	if err != nil {
		return e.failure(snapshot, metrics, dataError(err))
	}

	runCtx, cancel := withBudget(ctx, settings.TimeLimit())
	defer cancel()

	outcome, err := e.solve(runCtx, solver, problem, phaseReporter{next: reporter, from: 10, to: 90})
	if err != nil {
		return e.failure(snapshot, metrics, err)
	}
	if outcome == nil || outcome.Best == nil {
		return e.failure(snapshot, metrics, systemError("solver returned no candidate"))
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		outcome.Termination = models.TerminationCancelled
	}

	reporter.OnProgress(Progress{Percentage: 92, Step: "detecting conflicts"})
	return e.finish(problem, outcome.Best, outcome, metrics, reporter)
}

// solve isolates solver panics so they surface as system errors.
func (e *Engine) solve(ctx context.Context, solver Solver, p *Problem, progress ProgressReporter) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = systemError(fmt.Sprintf("%s solver panicked: %v", solver.Algorithm(), r))
		}
	}()
	outcome, err = solver.Solve(ctx, p, progress)
	if err != nil {
		var fault *engineFault
		if !errors.As(err, &fault) {
			err = systemError(fmt.Sprintf("%s solver failed: %v", solver.Algorithm(), err))
		}
	}
	return outcome, err
}

func (e *Engine) finish(p *Problem, best *Candidate, outcome *Outcome, metrics models.GenerationMetrics, reporter *safeReporter) *models.GenerationResult {
	if best == nil {
		best = p.NewCandidate()
	}
	schedule := p.Schedule(best)
	conflicts := append([]models.Conflict{}, GenerationErrors(p, best)...)
	conflicts = append(conflicts, DetectConflicts(schedule)...)
	conflicts = append(conflicts, DetectViolations(p.Snapshot, schedule)...)
	normalizeConflicts(conflicts)

	reporter.OnProgress(Progress{Percentage: 96, Step: "scoring quality"})
	scorer := NewScorer(p.Settings)
	quality := scorer.Score(schedule, conflicts, p.Teachers, p.Rooms)

	end := e.now()
	metrics.EndTime = end
	metrics.Duration = end.Sub(metrics.StartTime)
	metrics.Iterations = outcome.Iterations
	metrics.Generations = outcome.Generations
	metrics.BacktrackSteps = outcome.BacktrackSteps
	metrics.InitialFitness = outcome.InitialFitness
	metrics.FinalFitness = outcome.FinalFitness
	metrics.ConvergenceRate = convergenceRate(outcome.InitialFitness, outcome.FinalFitness)
	metrics.Termination = outcome.Termination
	metrics.Cancelled = outcome.Termination == models.TerminationCancelled
	metrics.Phases = outcome.Phases
	metrics.Estimated = quality.Estimated
	metrics.EstimatedFields = quality.EstimatedFields
	countConstraints(&metrics, len(p.Sessions), conflicts)

	status := models.GenerationStatusCompleted
	if metrics.Cancelled || len(p.UnplacedSessions(best)) > 0 {
		status = models.GenerationStatusDraft
	}

	reporter.OnProgress(Progress{Percentage: 100, Step: "completed", Fitness: outcome.FinalFitness})
	return &models.GenerationResult{
		TimetableID: p.Snapshot.TimetableID,
		Status:      status,
		Schedule:    schedule,
		Conflicts:   conflicts,
		Metrics:     metrics,
		Quality:     quality,
		Statistics:  BuildStatistics(schedule, p.Snapshot, p.Settings),
	}
}

// failure builds the draft result for a run that produced no schedule.
func (e *Engine) failure(snapshot *models.Snapshot, metrics models.GenerationMetrics, err error) *models.GenerationResult {
	end := e.now()
	metrics.EndTime = end
	metrics.Duration = end.Sub(metrics.StartTime)
	metrics.Termination = models.TerminationFailed
	metrics.ConstraintsViolated = 1

	var settings models.GenerationSettings
	result := &models.GenerationResult{
		Status:    models.GenerationStatusDraft,
		Schedule:  models.Schedule{},
		Conflicts: []models.Conflict{faultConflict(err)},
		Metrics:   metrics,
		Quality:   models.QualityScore{NotApplicable: true},
	}
	if snapshot != nil {
		result.TimetableID = snapshot.TimetableID
		settings = snapshot.Settings
	}
	result.Statistics = BuildStatistics(nil, snapshot, settings)
	return result
}

// GenerationErrors reports every session left without an assignment.
func GenerationErrors(p *Problem, c *Candidate) []models.Conflict {
	var out []models.Conflict
	for _, i := range p.UnplacedSessions(c) {
		course := p.Courses[p.Sessions[i].Course]
		reason := "no clash-free slot, room and teacher remained"
		if len(p.Sessions[i].Domain) == 0 {
			reason = p.unplaceableReason(i)
		}
		out = append(out, models.Conflict{
			ID:          conflictID(models.ConflictGenerationError, course.ID, fmt.Sprint(p.Sessions[i].Ordinal)),
			Type:        models.ConflictGenerationError,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Could not place %s: %s", p.Describe(i), reason),
			InvolvedEntities: models.InvolvedEntities{
				Teachers:   uniqueSorted(course.AssignedTeachers...),
				Classrooms: []string{},
				Courses:    []string{course.ID},
			},
		})
	}
	return out
}

func countConstraints(metrics *models.GenerationMetrics, sessions int, conflicts []models.Conflict) {
	violated := 0
	for _, c := range conflicts {
		if !c.Resolved {
			violated++
		}
	}
	checks := sessions * len(HardConstraints)
	satisfied := checks - violated
	if satisfied < 0 {
		satisfied = 0
	}
	metrics.ConstraintsViolated = violated
	metrics.ConstraintsSatisfied = satisfied
	if checks > 0 {
		metrics.SatisfactionRate = round2(float64(satisfied) / float64(checks) * 100)
	}
}

func convergenceRate(initial, final float64) float64 {
	if initial == 0 {
		return 0
	}
	return (final - initial) / initial
}

// engineFault carries a taxonomy type through the error chain.
type engineFault struct {
	kind    models.ConflictType
	message string
}

func (f *engineFault) Error() string { return f.message }

func systemError(message string) error {
	return &engineFault{kind: models.ConflictSystemError, message: message}
}

func dataError(err error) error {
	return &engineFault{kind: models.ConflictDataError, message: err.Error()}
}

func faultConflict(err error) models.Conflict {
	kind := models.ConflictSystemError
	message := err.Error()
	var fault *engineFault
	if errors.As(err, &fault) {
		kind = fault.kind
	}
	return models.Conflict{
		ID:          conflictID(kind, message),
		Type:        kind,
		Severity:    models.SeverityCritical,
		Description: message,
		InvolvedEntities: models.InvolvedEntities{
			Teachers:   []string{},
			Classrooms: []string{},
			Courses:    []string{},
		},
	}
}
