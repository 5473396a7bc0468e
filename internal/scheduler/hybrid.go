package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// HybridSolver runs CSP for a feasible seed, then optimises it with the GA.
// It owns both phases; greedy completion covers sessions the CSP phase left open.
type HybridSolver struct {
	csp        *CSPSolver
	ga         *GeneticSolver
	greedy     *GreedySolver
	cspBudget  time.Duration
	ratio      float64
	totalLimit time.Duration
	seed       int64
}

// NewHybridSolver splits the run budget between the two phases.
func NewHybridSolver(settings models.GenerationSettings) *HybridSolver {
	gaOpts := GeneticOptionsFromSettings(settings)
	if settings.Hybrid.GAGenerations > 0 {
		gaOpts.MaxGenerations = settings.Hybrid.GAGenerations
	}
	return &HybridSolver{
		csp:        NewCSPSolver(CSPOptionsFromSettings(settings)),
		ga:         NewGeneticSolver(gaOpts),
		greedy:     NewGreedySolver(),
		cspBudget:  time.Duration(settings.Hybrid.CSPTimeLimitMs) * time.Millisecond,
		ratio:      settings.Hybrid.HybridRatio,
		totalLimit: settings.TimeLimit(),
		seed:       settings.Seed,
	}
}

// Algorithm implements Solver.
func (h *HybridSolver) Algorithm() models.Algorithm { return models.AlgorithmHybrid }

// phaseBudget is cspTimeLimit when set, else hybridRatio of the total budget.
func (h *HybridSolver) phaseBudget() time.Duration {
	if h.cspBudget > 0 {
		return h.cspBudget
	}
	if h.totalLimit > 0 && h.ratio > 0 {
		return time.Duration(float64(h.totalLimit) * h.ratio)
	}
	return 0
}

// Solve implements Solver.
func (h *HybridSolver) Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error) {
	if progress == nil {
		progress = NopReporter
	}
	eval := NewEvaluator(p)
	empty := p.NewCandidate()
	initialFitness := eval.Evaluate(empty)
	out := &Outcome{InitialFitness: initialFitness}

	cspStarted := time.Now()
	cspCtx, cancel := withBudget(ctx, h.phaseBudget())
	res := h.csp.Search(cspCtx, p, empty, phaseReporter{next: progress, from: 0, to: 30, stepLabel: "csp"})
	cancel()
	seed := res.Assignment
	out.BacktrackSteps = res.BacktrackSteps
	out.Exhausted = res.Exhausted
	out.Iterations = res.Nodes
	cspTermination := res.Termination
	if cspTermination == models.TerminationTimeout && ctx.Err() == nil {
		// the phase budget ran out, not the run
		cspTermination = models.TerminationStepLimit
	}
	out.Phases = append(out.Phases, models.PhaseMetrics{
		Name:        "csp",
		Duration:    time.Since(cspStarted),
		Iterations:  res.Nodes,
		Fitness:     eval.Evaluate(seed),
		Termination: cspTermination,
	})

	if reason, stopped := stopReason(ctx); stopped {
		out.Best = seed
		out.FinalFitness = seed.Fitness
		out.Termination = reason
		return out, nil
	}

	if needsFallback(p, seed) {
		greedyStarted := time.Now()
		completed, termination := h.greedy.Complete(ctx, p, seed, phaseReporter{next: progress, from: 30, to: 35, stepLabel: "greedy fallback"})
		seed = completed
		out.FallbackUsed = true
		out.Phases = append(out.Phases, models.PhaseMetrics{
			Name:        "greedy_fallback",
			Duration:    time.Since(greedyStarted),
			Iterations:  len(p.Sessions),
			Fitness:     eval.Evaluate(seed),
			Termination: termination,
		})
	}

	rng := rand.New(rand.NewSource(h.seed))
	population := []*Candidate{seed}
	for len(population) < h.ga.opts.PopulationSize {
		population = append(population, perturb(p, seed, rng))
	}

	gaStarted := time.Now()
	evo, err := h.ga.Evolve(ctx, p, population, phaseReporter{next: progress, from: 35, to: 100, stepLabel: "genetic"})
	if err != nil {
		return nil, err
	}
	out.Phases = append(out.Phases, models.PhaseMetrics{
		Name:        "genetic",
		Duration:    time.Since(gaStarted),
		Iterations:  evo.Generations,
		Fitness:     evo.FinalFitness,
		Termination: evo.Termination,
	})

	out.Best = evo.Best
	out.Generations = evo.Generations
	out.Iterations += evo.Generations
	out.FinalFitness = evo.FinalFitness
	out.Termination = evo.Termination
	return out, nil
}

// needsFallback is true when CSP left a placeable session open or placed nothing at all.
func needsFallback(p *Problem, c *Candidate) bool {
	if len(p.Sessions) > 0 && c.Placed() == 0 {
		return true
	}
	for i, g := range c.Genes {
		if g == Unplaced && len(p.Sessions[i].Domain) > 0 {
			return true
		}
	}
	return false
}
