package scheduler

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const fitnessEpsilon = 1e-9

// GeneticOptions tunes evolution. A zero TimeLimit means the caller's context governs.
type GeneticOptions struct {
	PopulationSize   int
	MaxGenerations   int
	CrossoverRate    float64
	MutationRate     float64
	TournamentSize   int
	EliteSize        int
	StagnationWindow int
	CrossoverMode    models.CrossoverMode
	Workers          int
	Seed             int64
	TimeLimit        time.Duration
}

// GeneticOptionsFromSettings reads the genetic block of defaulted settings.
func GeneticOptionsFromSettings(settings models.GenerationSettings) GeneticOptions {
	g := settings.Genetic
	return GeneticOptions{
		PopulationSize:   g.PopulationSize,
		MaxGenerations:   g.MaxGenerations,
		CrossoverRate:    g.Crossover(),
		MutationRate:     g.Mutation(),
		TournamentSize:   g.TournamentSize,
		EliteSize:        g.Elite(),
		StagnationWindow: g.StagnationWindow,
		CrossoverMode:    g.CrossoverMode,
		Workers:          settings.Workers,
		Seed:             settings.Seed,
	}
}

// GeneticSolver evolves a population of candidates.
type GeneticSolver struct {
	opts GeneticOptions
}

// NewGeneticSolver clamps degenerate options to workable values.
func NewGeneticSolver(opts GeneticOptions) *GeneticSolver {
	if opts.PopulationSize < 2 {
		opts.PopulationSize = 2
	}
	if opts.TournamentSize < 1 {
		opts.TournamentSize = 1
	}
	if opts.TournamentSize > opts.PopulationSize {
		opts.TournamentSize = opts.PopulationSize
	}
	if opts.EliteSize >= opts.PopulationSize {
		opts.EliteSize = opts.PopulationSize - 1
	}
	if opts.EliteSize < 0 {
		opts.EliteSize = 0
	}
	return &GeneticSolver{opts: opts}
}

// Algorithm implements Solver.
func (g *GeneticSolver) Algorithm() models.Algorithm { return models.AlgorithmGenetic }

// Options exposes the effective configuration.
func (g *GeneticSolver) Options() GeneticOptions { return g.opts }

// EvolutionResult reports the best individual plus per-generation history.
type EvolutionResult struct {
	Best           *Candidate
	Generations    int
	InitialFitness float64
	FinalFitness   float64
	// BestHistory holds the best fitness of the initial population followed by one entry per generation.
	BestHistory []float64
	Termination models.TerminationReason
}

// Solve implements Solver. The population is seeded randomly plus one greedy individual.
func (g *GeneticSolver) Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error) {
	rng := rand.New(rand.NewSource(g.opts.Seed))
	seeds := make([]*Candidate, 0, g.opts.PopulationSize)
	greedy, _ := NewGreedySolver().Complete(ctx, p, p.NewCandidate(), nil)
	seeds = append(seeds, greedy)
	for len(seeds) < g.opts.PopulationSize {
		seeds = append(seeds, randomCandidate(p, rng))
	}
	res, err := g.Evolve(ctx, p, seeds, progress)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Best:           res.Best,
		Iterations:     res.Generations,
		Generations:    res.Generations,
		InitialFitness: res.InitialFitness,
		FinalFitness:   res.FinalFitness,
		Termination:    res.Termination,
	}, nil
}

// Evolve runs the generational loop over a seed population. Seeds are cloned, never mutated.
func (g *GeneticSolver) Evolve(ctx context.Context, p *Problem, seeds []*Candidate, progress ProgressReporter) (*EvolutionResult, error) {
	if progress == nil {
		progress = NopReporter
	}
	runCtx, cancel := withBudget(ctx, g.opts.TimeLimit)
	defer cancel()

	rng := rand.New(rand.NewSource(g.opts.Seed + 1))
	eval := NewEvaluator(p)

	population := make([]*Candidate, 0, g.opts.PopulationSize)
	for _, s := range seeds {
		if len(population) == g.opts.PopulationSize {
			break
		}
		population = append(population, s.Clone())
	}
	for len(population) < g.opts.PopulationSize {
		population = append(population, randomCandidate(p, rng))
	}
	if err := g.evaluate(eval, population); err != nil {
		return nil, err
	}
	rank(population)

	best := population[0].Clone()
	res := &EvolutionResult{
		InitialFitness: best.Fitness,
		BestHistory:    []float64{best.Fitness},
		Termination:    models.TerminationMaxIteration,
	}

	stagnant := 0
	for gen := 1; gen <= g.opts.MaxGenerations; gen++ {
		if reason, stopped := stopReason(runCtx); stopped {
			res.Termination = reason
			break
		}

		next := make([]*Candidate, 0, g.opts.PopulationSize)
		for i := 0; i < g.opts.EliteSize; i++ {
			next = append(next, population[i].Clone())
		}
		for len(next) < g.opts.PopulationSize {
			a := g.tournament(population, rng)
			b := g.tournament(population, rng)
			child := a.Clone()
			if rng.Float64() < g.opts.CrossoverRate {
				child = g.crossover(p, a, b, rng)
			}
			if rng.Float64() < g.opts.MutationRate {
				mutate(p, child, rng)
			}
			child.Invalidate()
			next = append(next, child)
		}
		if err := g.evaluate(eval, next); err != nil {
			return nil, err
		}
		rank(next)
		population = next
		res.Generations = gen
		res.BestHistory = append(res.BestHistory, population[0].Fitness)

		if population[0].Fitness > best.Fitness+fitnessEpsilon {
			best = population[0].Clone()
			stagnant = 0
		} else {
			stagnant++
		}
		progress.OnProgress(Progress{
			Percentage: percent(gen, g.opts.MaxGenerations),
			Step:       "evolving population",
			Generation: gen,
			Fitness:    best.Fitness,
		})
		if g.opts.StagnationWindow > 0 && stagnant >= g.opts.StagnationWindow {
			res.Termination = models.TerminationConverged
			break
		}
	}

	res.Best = best
	res.FinalFitness = best.Fitness
	return res, nil
}

// evaluate scores unevaluated members in parallel. Each goroutine owns one candidate,
// and every member is scored even after cancellation so ranking stays total.
func (g *GeneticSolver) evaluate(eval *Evaluator, population []*Candidate) error {
	var group errgroup.Group
	group.SetLimit(workerCount(g.opts.Workers))
	for _, c := range population {
		if c.Evaluated() {
			continue
		}
		c := c
		group.Go(func() error {
			eval.Evaluate(c)
			return nil
		})
	}
	return group.Wait()
}

// rank sorts by fitness descending; ties keep insertion order so elites stay stable.
func rank(population []*Candidate) {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].Fitness > population[j].Fitness
	})
}

func (g *GeneticSolver) tournament(population []*Candidate, rng *rand.Rand) *Candidate {
	var winner *Candidate
	for i := 0; i < g.opts.TournamentSize; i++ {
		c := population[rng.Intn(len(population))]
		if winner == nil || c.Fitness > winner.Fitness {
			winner = c
		}
	}
	return winner
}

func (g *GeneticSolver) crossover(p *Problem, a, b *Candidate, rng *rand.Rand) *Candidate {
	child := &Candidate{Genes: make([]int, len(a.Genes))}
	switch g.opts.CrossoverMode {
	case models.CrossoverSinglePoint:
		cut := 0
		if len(a.Genes) > 1 {
			cut = 1 + rng.Intn(len(a.Genes)-1)
		}
		copy(child.Genes[:cut], a.Genes[:cut])
		copy(child.Genes[cut:], b.Genes[cut:])
	default:
		for i := range child.Genes {
			if rng.Intn(2) == 0 {
				child.Genes[i] = a.Genes[i]
			} else {
				child.Genes[i] = b.Genes[i]
			}
		}
	}
	repair(p, child, rng)
	return child
}

// repair resolves double bookings left by recombination. The losing session moves to
// the next legal value in its domain, scanning forward from a random offset; when none
// exists it keeps its clashing value so no session is ever dropped.
func repair(p *Problem, c *Candidate, rng *rand.Rand) {
	occ := newOccupancy(p)
	order := rng.Perm(len(c.Genes))
	var losers []int
	for _, i := range order {
		v, ok := p.Value(c, i)
		if !ok {
			if len(p.Sessions[i].Domain) > 0 {
				losers = append(losers, i)
			}
			continue
		}
		if occ.legal(i, v) {
			occ.add(i, v)
			continue
		}
		losers = append(losers, i)
	}
	for _, i := range losers {
		domain := p.Sessions[i].Domain
		if len(domain) == 0 {
			continue
		}
		start := rng.Intn(len(domain))
		moved := false
		for k := 0; k < len(domain); k++ {
			pos := (start + k) % len(domain)
			if occ.legal(i, domain[pos]) {
				c.Genes[i] = pos
				occ.add(i, domain[pos])
				moved = true
				break
			}
		}
		if !moved {
			if c.Genes[i] == Unplaced {
				c.Genes[i] = start
			}
			occ.add(i, domain[c.Genes[i]])
		}
	}
	c.Invalidate()
}

// mutate reassigns one session, preferring an unplaced one, to a different legal value.
func mutate(p *Problem, c *Candidate, rng *rand.Rand) {
	target := pickMutationTarget(p, c, rng)
	if target < 0 {
		return
	}
	domain := p.Sessions[target].Domain
	occ := occupancyFor(p, c)
	if v, ok := p.Value(c, target); ok {
		occ.remove(target, v)
	}
	start := rng.Intn(len(domain))
	for k := 0; k < len(domain); k++ {
		pos := (start + k) % len(domain)
		if pos == c.Genes[target] && len(domain) > 1 {
			continue
		}
		if occ.legal(target, domain[pos]) {
			c.Genes[target] = pos
			c.Invalidate()
			return
		}
	}
	if len(domain) > 1 || c.Genes[target] == Unplaced {
		c.Genes[target] = start
	}
	c.Invalidate()
}

func pickMutationTarget(p *Problem, c *Candidate, rng *rand.Rand) int {
	var unplaced []int
	var placeable []int
	for i, g := range c.Genes {
		if len(p.Sessions[i].Domain) == 0 {
			continue
		}
		placeable = append(placeable, i)
		if g == Unplaced {
			unplaced = append(unplaced, i)
		}
	}
	if len(placeable) == 0 {
		return -1
	}
	if len(unplaced) > 0 && rng.Intn(2) == 0 {
		return unplaced[rng.Intn(len(unplaced))]
	}
	return placeable[rng.Intn(len(placeable))]
}

// randomCandidate samples a legal value per session when one is found within a few tries.
func randomCandidate(p *Problem, rng *rand.Rand) *Candidate {
	c := p.NewCandidate()
	occ := newOccupancy(p)
	for _, i := range rng.Perm(len(p.Sessions)) {
		domain := p.Sessions[i].Domain
		if len(domain) == 0 {
			continue
		}
		pos := rng.Intn(len(domain))
		for try := 0; try < 8; try++ {
			candidate := rng.Intn(len(domain))
			if occ.legal(i, domain[candidate]) {
				pos = candidate
				break
			}
		}
		c.Genes[i] = pos
		occ.add(i, domain[pos])
	}
	return c
}

// perturb lightly shakes a seed for population diversity.
func perturb(p *Problem, seed *Candidate, rng *rand.Rand) *Candidate {
	c := seed.Clone()
	moves := len(c.Genes) / 20
	if moves < 1 {
		moves = 1
	}
	for i := 0; i < moves; i++ {
		mutate(p, c, rng)
	}
	return c
}
