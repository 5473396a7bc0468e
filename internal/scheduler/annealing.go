package scheduler

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// AnnealingOptions tunes the temperature schedule.
type AnnealingOptions struct {
	InitialTemperature float64
	CoolingRate        float64
	MinTemperature     float64
	MaxIterations      int
	ReportEvery        int
	Seed               int64
	TimeLimit          time.Duration
}

// AnnealingOptionsFromSettings reads the annealing block of defaulted settings.
func AnnealingOptionsFromSettings(settings models.GenerationSettings) AnnealingOptions {
	a := settings.Annealing
	return AnnealingOptions{
		InitialTemperature: a.InitialTemperature,
		CoolingRate:        a.CoolingRate,
		MinTemperature:     a.MinTemperature,
		MaxIterations:      a.MaxIterations,
		ReportEvery:        a.ReportEvery,
		Seed:               settings.Seed,
	}
}

// AnnealingSolver is the single-individual analogue of the genetic solver.
type AnnealingSolver struct {
	opts AnnealingOptions
}

// NewAnnealingSolver constructs the simulated annealing variant.
func NewAnnealingSolver(opts AnnealingOptions) *AnnealingSolver {
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = 250
	}
	return &AnnealingSolver{opts: opts}
}

// Algorithm implements Solver.
func (s *AnnealingSolver) Algorithm() models.Algorithm { return models.AlgorithmSimulatedAnnealing }

// Solve implements Solver, starting from the greedy placement.
func (s *AnnealingSolver) Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error) {
	seed, _ := NewGreedySolver().Complete(ctx, p, p.NewCandidate(), nil)
	return s.Anneal(ctx, p, seed, progress), nil
}

// Anneal walks from seed, accepting worse neighbours with probability exp(delta/T).
func (s *AnnealingSolver) Anneal(ctx context.Context, p *Problem, seed *Candidate, progress ProgressReporter) *Outcome {
	if progress == nil {
		progress = NopReporter
	}
	runCtx, cancel := withBudget(ctx, s.opts.TimeLimit)
	defer cancel()

	rng := rand.New(rand.NewSource(s.opts.Seed))
	eval := NewEvaluator(p)
	current := seed.Clone()
	current.Invalidate()
	eval.Evaluate(current)
	best := current.Clone()

	out := &Outcome{InitialFitness: current.Fitness, Termination: models.TerminationMaxIteration}
	temperature := s.opts.InitialTemperature
	iter := 0
	for ; iter < s.opts.MaxIterations; iter++ {
		if temperature <= s.opts.MinTemperature {
			out.Termination = models.TerminationConverged
			break
		}
		if reason, stopped := stopReason(runCtx); stopped {
			out.Termination = reason
			break
		}
		neighbour := current.Clone()
		mutate(p, neighbour, rng)
		eval.Evaluate(neighbour)

		delta := neighbour.Fitness - current.Fitness
		if delta >= 0 || rng.Float64() < math.Exp(delta/temperature) {
			current = neighbour
		}
		if current.Fitness > best.Fitness+fitnessEpsilon {
			best = current.Clone()
		}
		temperature *= s.opts.CoolingRate

		if iter%s.opts.ReportEvery == 0 {
			progress.OnProgress(Progress{
				Percentage: percent(iter+1, s.opts.MaxIterations),
				Step:       "annealing",
				Generation: iter + 1,
				Fitness:    best.Fitness,
			})
		}
	}

	out.Best = best
	out.Iterations = iter
	out.FinalFitness = best.Fitness
	return out
}
