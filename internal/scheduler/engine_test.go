package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestEngineGeneratesConflictFreeScheduleForEveryAlgorithm(t *testing.T) {
	for _, algorithm := range models.Algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			snapshot := fixtureSnapshot(algorithm)
			result := NewEngine().Generate(context.Background(), snapshot, nil)

			require.NotNil(t, result)
			assert.Equal(t, models.GenerationStatusCompleted, result.Status)
			assert.Len(t, result.Schedule, snapshot.SessionCount())
			assert.Empty(t, result.Conflicts)
			assert.Equal(t, algorithm, result.Metrics.Algorithm)
			assert.Equal(t, 100.0, result.Quality.ConstraintCompliance)
			assert.Equal(t, snapshot.SessionCount(), result.Statistics.TotalClasses)
			assert.Equal(t, 3, result.Statistics.TotalTeachers)
			assert.False(t, result.Metrics.EndTime.Before(result.Metrics.StartTime))
		})
	}
}

func TestEngineZeroCourses(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmHybrid)
	snapshot.Courses = nil

	result := NewEngine().Generate(context.Background(), snapshot, nil)
	assert.Equal(t, models.GenerationStatusCompleted, result.Status)
	assert.Empty(t, result.Schedule)
	assert.Empty(t, result.Conflicts)
	assert.True(t, result.Quality.NotApplicable)
	assert.Zero(t, result.Quality.OverallScore)
	assert.Equal(t, models.TerminationCompleted, result.Metrics.Termination)
}

func TestEngineDataErrorIsFatal(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Courses[0].AssignedTeachers = []string{"nobody"}

	result := NewEngine().Generate(context.Background(), snapshot, nil)
	assert.Equal(t, models.GenerationStatusDraft, result.Status)
	assert.Empty(t, result.Schedule)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictDataError, result.Conflicts[0].Type)
	assert.Equal(t, models.SeverityCritical, result.Conflicts[0].Severity)
	assert.Equal(t, models.TerminationFailed, result.Metrics.Termination)
}

func TestEngineRejectsInvalidSettings(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Settings.StartTime = "13:00"
	snapshot.Settings.EndTime = "09:00"

	result := NewEngine().Generate(context.Background(), snapshot, nil)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictDataError, result.Conflicts[0].Type)
}

func TestEngineReportsUnplaceableSessions(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmHybrid)
	snapshot.Courses[2].RequiredFeatures = []string{"telescope"}

	result := NewEngine().Generate(context.Background(), snapshot, nil)
	assert.Equal(t, models.GenerationStatusDraft, result.Status)
	assert.Len(t, result.Schedule, snapshot.SessionCount()-2)
	assert.Equal(t, 2, countType(result.Conflicts, models.ConflictGenerationError))
	for _, c := range result.Conflicts {
		assert.Equal(t, models.SeverityHigh, c.Severity)
		assert.Equal(t, []string{"CHEM"}, c.InvolvedEntities.Courses)
	}
}

func TestEngineConvertsSolverPanicToSystemError(t *testing.T) {
	engine := NewEngine(WithSolverFactory(func(models.GenerationSettings) (Solver, error) {
		return panickingSolver{}, nil
	}))

	result := engine.Generate(context.Background(), fixtureSnapshot(models.AlgorithmGreedy), nil)
	assert.Equal(t, models.GenerationStatusDraft, result.Status)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, models.ConflictSystemError, result.Conflicts[0].Type)
	assert.Equal(t, models.SeverityCritical, result.Conflicts[0].Severity)
	assert.Contains(t, result.Conflicts[0].Description, "out of memory")
}

func TestEngineSurvivesPanickingReporter(t *testing.T) {
	reporter := ProgressFunc(func(Progress) { panic("socket closed") })
	result := NewEngine().Generate(context.Background(), fixtureSnapshot(models.AlgorithmGreedy), reporter)
	assert.Equal(t, models.GenerationStatusCompleted, result.Status)
}

func TestEngineCancelledRunReturnsBestSoFar(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reporter := ProgressFunc(func(p Progress) {
		if p.Generation == 1 {
			cancel()
		}
	})

	snapshot := fixtureSnapshot(models.AlgorithmGenetic)
	snapshot.Settings.Genetic.StagnationWindow = 1000
	result := NewEngine().Generate(ctx, snapshot, reporter)
	assert.True(t, result.Metrics.Cancelled)
	assert.Equal(t, models.TerminationCancelled, result.Metrics.Termination)
	assert.Equal(t, models.GenerationStatusDraft, result.Status)
	assert.NotEmpty(t, result.Schedule)
}

func TestEngineProgressIsMonotonic(t *testing.T) {
	recorder := &recordingReporter{}
	NewEngine().Generate(context.Background(), fixtureSnapshot(models.AlgorithmHybrid), recorder)

	require.NotEmpty(t, recorder.updates)
	last := -1.0
	for _, update := range recorder.updates {
		assert.GreaterOrEqual(t, update.Percentage, last)
		last = update.Percentage
	}
	assert.Equal(t, 100.0, last)
}

func TestEngineMetricsUseInjectedClock(t *testing.T) {
	base := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	result := NewEngine(WithClock(clock)).Generate(context.Background(), fixtureSnapshot(models.AlgorithmGreedy), nil)
	assert.Equal(t, base.Add(time.Second), result.Metrics.StartTime)
	assert.Equal(t, time.Second, result.Metrics.Duration)
}

func TestHybridFallsBackToGreedyWhenCSPPlacesNothing(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmHybrid)
	settings := snapshot.Settings.WithDefaults()
	hybrid := NewHybridSolver(settings)
	hybrid.csp = NewCSPSolver(CSPOptions{MaxBacktrackSteps: 0})

	problem := fixtureProblem(t, snapshot)
	outcome, err := hybrid.Solve(context.Background(), problem, nil)
	require.NoError(t, err)
	assert.True(t, outcome.FallbackUsed)
	assert.True(t, outcome.Exhausted)
	assert.Equal(t, len(problem.Sessions), outcome.Best.Placed())
	require.Len(t, outcome.Phases, 3)
	assert.Equal(t, "greedy_fallback", outcome.Phases[1].Name)
}

func TestHybridSkipsFallbackWhenCSPSucceeds(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmHybrid)
	problem := fixtureProblem(t, snapshot)

	outcome, err := NewHybridSolver(problem.Settings).Solve(context.Background(), problem, nil)
	require.NoError(t, err)
	assert.False(t, outcome.FallbackUsed)
	require.Len(t, outcome.Phases, 2)
	assert.Equal(t, "csp", outcome.Phases[0].Name)
	assert.Equal(t, "genetic", outcome.Phases[1].Name)
	assert.GreaterOrEqual(t, outcome.FinalFitness, outcome.Phases[0].Fitness)
}

func TestHybridPhaseBudget(t *testing.T) {
	cases := []struct {
		name   string
		hybrid models.HybridParams
		limit  int64
		want   time.Duration
	}{
		{name: "explicit csp limit wins", hybrid: models.HybridParams{CSPTimeLimitMs: 200, HybridRatio: 0.5}, limit: 10000, want: 200 * time.Millisecond},
		{name: "ratio of run limit", hybrid: models.HybridParams{HybridRatio: 0.25}, limit: 8000, want: 2 * time.Second},
		{name: "unbounded run", hybrid: models.HybridParams{HybridRatio: 0.25}, limit: 0, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			settings := models.GenerationSettings{TimeLimitMs: tc.limit, Hybrid: tc.hybrid}
			assert.Equal(t, tc.want, NewHybridSolver(settings).phaseBudget())
		})
	}
}

// pigeonholeSnapshot gives one teacher more sessions than the week has slots,
// which backtracking can only refute by exhaustive search.
func pigeonholeSnapshot() *models.Snapshot {
	snapshot := fixtureSnapshot(models.AlgorithmHybrid)
	snapshot.Teachers = []models.Teacher{{ID: "T1", Name: "Ana", MaxHoursPerWeek: 40}}
	snapshot.Classrooms = snapshot.Classrooms[:2]
	snapshot.Courses = nil
	for i := 1; i <= 13; i++ {
		id := fmt.Sprintf("C%02d", i)
		snapshot.Courses = append(snapshot.Courses, models.Course{
			ID:               id,
			RequiredSessions: 1,
			SessionType:      models.SessionLecture,
			AssignedTeachers: []string{"T1"},
			EnrolledStudents: 20,
			DivisionID:       "D" + id,
		})
	}
	snapshot.Settings.WorkingDays = []models.Day{models.DayMonday, models.DayTuesday}
	snapshot.Settings.EndTime = "14:00"
	snapshot.Settings.TimeLimitMs = 60000
	snapshot.Settings.CSP = models.CSPParams{MaxBacktrackSteps: 1 << 30}
	snapshot.Settings.Hybrid = models.HybridParams{CSPTimeLimitMs: 5, GAGenerations: 3}
	return snapshot
}

func TestHybridCSPPhaseStopsOnItsOwnBudget(t *testing.T) {
	result := NewEngine().Generate(context.Background(), pigeonholeSnapshot(), nil)

	require.NotNil(t, result)
	assert.False(t, result.Metrics.Cancelled)
	phases := result.Metrics.Phases
	require.Len(t, phases, 3)

	assert.Equal(t, "csp", phases[0].Name)
	assert.Equal(t, models.TerminationStepLimit, phases[0].Termination)
	assert.GreaterOrEqual(t, phases[0].Duration, 5*time.Millisecond)
	assert.Less(t, phases[0].Duration, 10*time.Second)

	assert.Equal(t, "greedy_fallback", phases[1].Name)
	assert.Equal(t, "genetic", phases[2].Name)
	assert.Positive(t, phases[2].Iterations)
	assert.NotEqual(t, models.TerminationTimeout, result.Metrics.Termination)
}

func TestGreedyBalancesDays(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGreedy))
	outcome, err := NewGreedySolver().Solve(context.Background(), problem, nil)
	require.NoError(t, err)

	perDay := map[models.Day]int{}
	for _, a := range problem.Schedule(outcome.Best) {
		if a.DivisionID == "X" {
			perDay[a.Day]++
		}
	}
	// five sessions of division X over three days
	for _, n := range perDay {
		assert.LessOrEqual(t, n, 2)
	}
}

func TestNewSolverDispatch(t *testing.T) {
	for _, algorithm := range models.Algorithms {
		settings := models.GenerationSettings{Algorithm: algorithm}.WithDefaults()
		solver, err := NewSolver(settings)
		require.NoError(t, err)
		assert.Equal(t, algorithm, solver.Algorithm())
	}
	_, err := NewSolver(models.GenerationSettings{Algorithm: "quantum"})
	assert.Error(t, err)
}

type panickingSolver struct{}

func (panickingSolver) Algorithm() models.Algorithm { return models.AlgorithmGreedy }

func (panickingSolver) Solve(context.Context, *Problem, ProgressReporter) (*Outcome, error) {
	panic("out of memory")
}
