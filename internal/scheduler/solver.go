package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// Solver is the common capability of every algorithm variant.
type Solver interface {
	Algorithm() models.Algorithm
	Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error)
}

// Outcome is what a solver hands back to the engine.
type Outcome struct {
	Best           *Candidate
	Iterations     int
	Generations    int
	BacktrackSteps int
	InitialFitness float64
	FinalFitness   float64
	Termination    models.TerminationReason
	Exhausted      bool
	FallbackUsed   bool
	Phases         []models.PhaseMetrics
}

// NewSolver dispatches settings to a concrete variant. Settings must carry defaults.
func NewSolver(settings models.GenerationSettings) (Solver, error) {
	switch settings.Algorithm {
	case models.AlgorithmGreedy:
		return NewGreedySolver(), nil
	case models.AlgorithmCSP:
		return NewCSPSolver(CSPOptionsFromSettings(settings)), nil
	case models.AlgorithmBacktracking:
		return NewBacktrackingSolver(settings), nil
	case models.AlgorithmGenetic:
		return NewGeneticSolver(GeneticOptionsFromSettings(settings)), nil
	case models.AlgorithmSimulatedAnnealing:
		return NewAnnealingSolver(AnnealingOptionsFromSettings(settings)), nil
	case models.AlgorithmHybrid:
		return NewHybridSolver(settings), nil
	}
	return nil, fmt.Errorf("unsupported algorithm %q", settings.Algorithm)
}

// stopReason maps a finished context to a termination reason.
func stopReason(ctx context.Context) (models.TerminationReason, bool) {
	err := ctx.Err()
	if err == nil {
		return "", false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.TerminationTimeout, true
	}
	return models.TerminationCancelled, true
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

func workerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	return runtime.GOMAXPROCS(0)
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}
