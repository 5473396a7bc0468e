package scheduler

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestGeneticElitismNeverRegresses(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGenetic)
	problem := fixtureProblem(t, snapshot)

	for _, mode := range []models.CrossoverMode{models.CrossoverUniform, models.CrossoverSinglePoint} {
		opts := GeneticOptionsFromSettings(problem.Settings)
		opts.MaxGenerations = 30
		opts.StagnationWindow = 0
		opts.EliteSize = 1
		opts.MutationRate = 0.6
		opts.CrossoverMode = mode

		rng := rand.New(rand.NewSource(5))
		seeds := make([]*Candidate, 0, opts.PopulationSize)
		for len(seeds) < opts.PopulationSize {
			seeds = append(seeds, randomCandidate(problem, rng))
		}

		res, err := NewGeneticSolver(opts).Evolve(context.Background(), problem, seeds, nil)
		require.NoError(t, err)
		require.Len(t, res.BestHistory, opts.MaxGenerations+1)
		for gen := 1; gen < len(res.BestHistory); gen++ {
			assert.GreaterOrEqual(t, res.BestHistory[gen], res.BestHistory[gen-1], "%s generation %d regressed", mode, gen)
		}
		assert.InDelta(t, res.BestHistory[len(res.BestHistory)-1], res.FinalFitness, 1e-6)
		assert.Equal(t, models.TerminationMaxIteration, res.Termination)
	}
}

func TestGeneticSeedsAreNotMutated(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	seed := problem.NewCandidate()
	before := append([]int(nil), seed.Genes...)

	_, err := NewGeneticSolver(GeneticOptionsFromSettings(problem.Settings)).Evolve(context.Background(), problem, []*Candidate{seed}, nil)
	require.NoError(t, err)
	assert.Equal(t, before, seed.Genes)
}

func TestGeneticStopsOnStagnation(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	opts := GeneticOptionsFromSettings(problem.Settings)
	opts.MaxGenerations = 500
	opts.StagnationWindow = 3

	res, err := NewGeneticSolver(opts).Evolve(context.Background(), problem, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TerminationConverged, res.Termination)
	assert.Less(t, res.Generations, 500)
}

func TestGeneticReturnsBestSoFarWhenCancelled(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	ctx, cancel := context.WithCancel(context.Background())

	reporter := ProgressFunc(func(p Progress) {
		if p.Generation == 2 {
			cancel()
		}
	})
	res, err := NewGeneticSolver(GeneticOptionsFromSettings(problem.Settings)).Evolve(ctx, problem, nil, reporter)
	require.NoError(t, err)
	assert.Equal(t, models.TerminationCancelled, res.Termination)
	assert.Equal(t, 2, res.Generations)
	require.NotNil(t, res.Best)
}

func TestRepairNeverDropsSessions(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	c := problem.NewCandidate()
	for i := range c.Genes {
		c.Genes[i] = 0
	}
	repair(problem, c, rand.New(rand.NewSource(1)))

	assert.Equal(t, len(problem.Sessions), c.Placed())
	assert.Empty(t, DetectConflicts(problem.Schedule(c)))
}

func TestMutationPlacesUnplacedSession(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	c := problem.NewCandidate()
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 50 && c.Placed() == 0; i++ {
		mutate(problem, c, rng)
	}
	assert.Positive(t, c.Placed())
	assert.False(t, c.Evaluated())
}

func TestEvaluatorPrefersConflictFreeCandidates(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmGenetic))
	clean, _ := NewGreedySolver().Complete(context.Background(), problem, problem.NewCandidate(), nil)
	require.Empty(t, DetectConflicts(problem.Schedule(clean)))

	clashing := clean.Clone()
	clashing.Invalidate()
	// put MATH sessions 1 and 2 on the same value
	clashing.Genes[1] = clashing.Genes[0]

	eval := NewEvaluator(problem)
	assert.Greater(t, eval.Evaluate(clean), eval.Evaluate(clashing))
	assert.Zero(t, clean.Conflicts)
	assert.Positive(t, clashing.Conflicts)
}

func TestAnnealingImprovesOnEmptySeed(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmSimulatedAnnealing))
	solver := NewAnnealingSolver(AnnealingOptionsFromSettings(problem.Settings))

	recorder := &recordingReporter{}
	outcome := solver.Anneal(context.Background(), problem, problem.NewCandidate(), recorder)
	assert.Greater(t, outcome.FinalFitness, outcome.InitialFitness)
	assert.Positive(t, outcome.Iterations)
	assert.NotEmpty(t, recorder.updates)
	assert.Equal(t, 1, recorder.updates[0].Generation)
}

func TestAnnealingStopsAtMinimumTemperature(t *testing.T) {
	problem := fixtureProblem(t, fixtureSnapshot(models.AlgorithmSimulatedAnnealing))
	solver := NewAnnealingSolver(AnnealingOptions{InitialTemperature: 1, CoolingRate: 0.5, MinTemperature: 0.1, MaxIterations: 1000, Seed: 1})

	outcome := solver.Anneal(context.Background(), problem, problem.NewCandidate(), nil)
	assert.Equal(t, models.TerminationConverged, outcome.Termination)
	assert.Equal(t, 4, outcome.Iterations)
}
