package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// CSPOptions configures the feasibility search.
type CSPOptions struct {
	// MaxBacktrackSteps bounds the search; zero returns the initial assignment at once.
	MaxBacktrackSteps int
	MRV               bool
	LCV               bool
	ForwardChecking   bool
	ArcConsistency    bool
	TimeLimit         time.Duration
}

// CSPOptionsFromSettings reads the csp block of defaulted settings.
func CSPOptionsFromSettings(settings models.GenerationSettings) CSPOptions {
	c := settings.CSP
	return CSPOptions{
		MaxBacktrackSteps: c.MaxBacktrackSteps,
		MRV:               c.VariableOrdering != "static",
		LCV:               c.ValueOrdering != "static",
		ForwardChecking:   c.Propagation != "none",
		ArcConsistency:    c.Preprocessing != "none",
		TimeLimit:         time.Duration(c.TimeLimitMs) * time.Millisecond,
	}
}

// CSPSolver runs backtracking search over session domains.
type CSPSolver struct {
	opts      CSPOptions
	algorithm models.Algorithm
}

// NewCSPSolver builds the heuristic CSP variant.
func NewCSPSolver(opts CSPOptions) *CSPSolver {
	return &CSPSolver{opts: opts, algorithm: models.AlgorithmCSP}
}

// NewBacktrackingSolver is chronological backtracking: static orderings and no propagation.
func NewBacktrackingSolver(settings models.GenerationSettings) *CSPSolver {
	opts := CSPOptionsFromSettings(settings)
	opts.MRV, opts.LCV, opts.ForwardChecking, opts.ArcConsistency = false, false, false, false
	return &CSPSolver{opts: opts, algorithm: models.AlgorithmBacktracking}
}

// Algorithm implements Solver.
func (s *CSPSolver) Algorithm() models.Algorithm { return s.algorithm }

// Options exposes the effective configuration.
func (s *CSPSolver) Options() CSPOptions { return s.opts }

// CSPResult is the search outcome. Exhausted is set whenever the assignment is incomplete.
type CSPResult struct {
	Assignment     *Candidate
	Exhausted      bool
	BacktrackSteps int
	Nodes          int
	Termination    models.TerminationReason
}

// Solve implements Solver.
func (s *CSPSolver) Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error) {
	eval := NewEvaluator(p)
	initial := p.NewCandidate()
	initialFitness := eval.Evaluate(initial)

	res := s.Search(ctx, p, initial, progress)
	final := eval.Evaluate(res.Assignment)
	return &Outcome{
		Best:           res.Assignment,
		Iterations:     res.Nodes,
		BacktrackSteps: res.BacktrackSteps,
		InitialFitness: initialFitness,
		FinalFitness:   final,
		Termination:    res.Termination,
		Exhausted:      res.Exhausted,
	}, nil
}

type prune struct {
	session int
	pos     int
}

type cspState struct {
	p        *Problem
	opts     CSPOptions
	ctx      context.Context
	progress ProgressReporter

	occ       *occupancy
	genes     []int
	fixed     []bool
	skip      []bool
	live      [][]bool
	liveCount []int
	slotLive  []map[int]int
	trail     []prune

	steps      int
	nodes      int
	stop       bool
	reason     models.TerminationReason
	placed     int
	target     int
	best       []int
	bestPlaced int
}

// Search extends initial towards a complete, clash-free assignment. It never mutates initial.
func (s *CSPSolver) Search(ctx context.Context, p *Problem, initial *Candidate, progress ProgressReporter) CSPResult {
	if progress == nil {
		progress = NopReporter
	}
	if initial == nil {
		initial = p.NewCandidate()
	}
	if s.opts.MaxBacktrackSteps <= 0 {
		return CSPResult{
			Assignment:  initial.Clone(),
			Exhausted:   true,
			Termination: models.TerminationStepLimit,
		}
	}

	runCtx, cancel := withBudget(ctx, s.opts.TimeLimit)
	defer cancel()

	st := newCSPState(runCtx, p, s.opts, initial, progress)
	if s.opts.ArcConsistency {
		progress.OnProgress(Progress{Percentage: 5, Step: "arc consistency"})
		st.arcConsistency()
	}
	st.markWipedOut()
	st.target = 0
	for i := range st.genes {
		if !st.fixed[i] && !st.skip[i] {
			st.target++
		}
	}

	solved := st.search()
	genes := st.genes
	if !solved {
		genes = st.best
	}
	termination := models.TerminationCompleted
	if st.stop {
		termination = st.reason
	}
	exhausted := !solved
	for i := range genes {
		if genes[i] == Unplaced && len(p.Sessions[i].Domain) > 0 {
			exhausted = true
		}
		if st.skip[i] {
			exhausted = true
		}
	}
	progress.OnProgress(Progress{Percentage: 100, Step: "csp search finished"})
	return CSPResult{
		Assignment:     &Candidate{Genes: append([]int(nil), genes...)},
		Exhausted:      exhausted,
		BacktrackSteps: st.steps,
		Nodes:          st.nodes,
		Termination:    termination,
	}
}

func newCSPState(ctx context.Context, p *Problem, opts CSPOptions, initial *Candidate, progress ProgressReporter) *cspState {
	n := len(p.Sessions)
	st := &cspState{
		p:         p,
		opts:      opts,
		ctx:       ctx,
		progress:  progress,
		occ:       newOccupancy(p),
		genes:     append([]int(nil), initial.Genes...),
		fixed:     make([]bool, n),
		skip:      make([]bool, n),
		live:      make([][]bool, n),
		liveCount: make([]int, n),
		slotLive:  make([]map[int]int, n),
	}
	for i, s := range p.Sessions {
		st.live[i] = make([]bool, len(s.Domain))
		st.slotLive[i] = make(map[int]int)
		for pos, v := range s.Domain {
			st.live[i][pos] = true
			st.slotLive[i][v.Slot]++
		}
		st.liveCount[i] = len(s.Domain)
	}
	for i := range st.genes {
		if v, ok := p.Value(initial, i); ok {
			st.fixed[i] = true
			st.occ.add(i, v)
			st.placed++
		} else {
			st.genes[i] = Unplaced
		}
	}
	if opts.ForwardChecking {
		for i := range st.genes {
			if st.fixed[i] {
				st.forwardCheck(i, p.Sessions[i].Domain[st.genes[i]])
			}
		}
	}
	st.trail = st.trail[:0]
	st.best = append([]int(nil), st.genes...)
	st.bestPlaced = st.placed
	return st
}

// markWipedOut excludes sessions with no live value; they stay unplaced.
func (st *cspState) markWipedOut() {
	for i := range st.genes {
		if !st.fixed[i] && st.liveCount[i] == 0 {
			st.skip[i] = true
		}
	}
}

func (st *cspState) checkStop() bool {
	if st.stop {
		return true
	}
	if st.nodes%32 == 0 {
		if reason, stopped := stopReason(st.ctx); stopped {
			st.stop = true
			st.reason = reason
		}
	}
	return st.stop
}

func (st *cspState) search() bool {
	if st.checkStop() {
		return false
	}
	v := st.selectVariable()
	if v < 0 {
		return true
	}
	st.nodes++
	domain := st.p.Sessions[v].Domain
	for _, pos := range st.orderValues(v) {
		if !st.live[v][pos] {
			continue
		}
		val := domain[pos]
		if !st.occ.legal(v, val) {
			continue
		}
		st.assign(v, pos, val)
		mark := len(st.trail)
		if st.forwardCheck(v, val) && st.search() {
			return true
		}
		st.undo(mark)
		st.unassign(v, val)
		if st.stop {
			return false
		}
	}
	st.steps++
	if st.steps >= st.opts.MaxBacktrackSteps {
		st.stop = true
		st.reason = models.TerminationStepLimit
	}
	return false
}

func (st *cspState) assign(v, pos int, val Value) {
	st.genes[v] = pos
	st.occ.add(v, val)
	st.placed++
	if st.placed > st.bestPlaced {
		st.bestPlaced = st.placed
		copy(st.best, st.genes)
		if st.target > 0 {
			st.progress.OnProgress(Progress{
				Percentage: 10 + 85*float64(st.bestPlaced)/float64(len(st.genes)),
				Step:       "csp search",
			})
		}
	}
}

func (st *cspState) unassign(v int, val Value) {
	st.occ.remove(v, val)
	st.genes[v] = Unplaced
	st.placed--
}

func (st *cspState) open(i int) bool {
	return st.genes[i] == Unplaced && !st.skip[i] && !st.fixed[i]
}

// selectVariable picks by MRV with a static degree tie-break, or the first open session.
func (st *cspState) selectVariable() int {
	best := -1
	for i := range st.genes {
		if !st.open(i) {
			continue
		}
		if !st.opts.MRV {
			return i
		}
		if best < 0 {
			best = i
			continue
		}
		if st.liveCount[i] < st.liveCount[best] ||
			(st.liveCount[i] == st.liveCount[best] && len(st.p.neighbors[i]) > len(st.p.neighbors[best])) {
			best = i
		}
	}
	return best
}

type slotResource struct {
	slot     int
	resource int
}

type slotPair struct {
	slot, teacher, room int
}

// orderValues applies least-constraining-value: values ruling out the fewest
// live neighbour values first.
func (st *cspState) orderValues(v int) []int {
	domain := st.p.Sessions[v].Domain
	order := make([]int, 0, st.liveCount[v])
	for pos := range domain {
		if st.live[v][pos] {
			order = append(order, pos)
		}
	}
	if !st.opts.LCV || len(order) < 2 {
		return order
	}

	slotAll := make(map[int]int)
	byTeacher := make(map[slotResource]int)
	byRoom := make(map[slotResource]int)
	byBoth := make(map[slotPair]int)
	for _, j := range st.p.neighbors[v] {
		if !st.open(j) {
			continue
		}
		group := st.p.groupsClash(v, j)
		for pos, b := range st.p.Sessions[j].Domain {
			if !st.live[j][pos] {
				continue
			}
			if group {
				slotAll[b.Slot]++
				continue
			}
			byTeacher[slotResource{b.Slot, b.Teacher}]++
			byRoom[slotResource{b.Slot, b.Room}]++
			byBoth[slotPair{b.Slot, b.Teacher, b.Room}]++
		}
	}
	cost := make(map[int]int, len(order))
	for _, pos := range order {
		a := domain[pos]
		cost[pos] = slotAll[a.Slot] +
			byTeacher[slotResource{a.Slot, a.Teacher}] +
			byRoom[slotResource{a.Slot, a.Room}] -
			byBoth[slotPair{a.Slot, a.Teacher, a.Room}]
	}
	sort.SliceStable(order, func(i, j int) bool { return cost[order[i]] < cost[order[j]] })
	return order
}

func (st *cspState) prune(session, pos int) {
	st.live[session][pos] = false
	st.liveCount[session]--
	st.slotLive[session][st.p.Sessions[session].Domain[pos].Slot]--
	st.trail = append(st.trail, prune{session: session, pos: pos})
}

func (st *cspState) undo(mark int) {
	for len(st.trail) > mark {
		last := st.trail[len(st.trail)-1]
		st.trail = st.trail[:len(st.trail)-1]
		st.live[last.session][last.pos] = true
		st.liveCount[last.session]++
		st.slotLive[last.session][st.p.Sessions[last.session].Domain[last.pos].Slot]++
	}
}

// forwardCheck prunes neighbour values that clash with val; false on a domain wipe-out.
func (st *cspState) forwardCheck(v int, val Value) bool {
	if !st.opts.ForwardChecking {
		return true
	}
	for _, j := range st.p.neighbors[v] {
		if !st.open(j) {
			continue
		}
		dj := st.p.Sessions[j].Domain
		for _, pos := range st.p.Sessions[j].bySlot[val.Slot] {
			if st.live[j][pos] && st.p.Clash(v, val, j, dj[pos]) {
				st.prune(j, pos)
			}
		}
		if st.liveCount[j] == 0 {
			return false
		}
	}
	return true
}

type arc struct{ from, to int }

// arcConsistency is AC-3 over the pairwise clash constraints.
func (st *cspState) arcConsistency() {
	var queue []arc
	queued := make(map[arc]bool)
	push := func(a arc) {
		if !queued[a] {
			queued[a] = true
			queue = append(queue, a)
		}
	}
	for i := range st.genes {
		if !st.open(i) {
			continue
		}
		for _, j := range st.p.neighbors[i] {
			if st.open(j) {
				push(arc{from: i, to: j})
			}
		}
	}
	for len(queue) > 0 {
		if st.checkStop() {
			return
		}
		st.nodes++
		a := queue[0]
		queue = queue[1:]
		delete(queued, a)
		if st.skip[a.from] || st.skip[a.to] {
			continue
		}
		if !st.revise(a.from, a.to) {
			continue
		}
		if st.liveCount[a.from] == 0 {
			st.skip[a.from] = true
			continue
		}
		for _, k := range st.p.neighbors[a.from] {
			if k != a.to && st.open(k) {
				push(arc{from: k, to: a.from})
			}
		}
	}
	st.trail = st.trail[:0]
}

func (st *cspState) revise(i, j int) bool {
	removed := false
	di := st.p.Sessions[i].Domain
	for pos, a := range di {
		if st.live[i][pos] && !st.supported(i, a, j) {
			st.prune(i, pos)
			removed = true
		}
	}
	return removed
}

func (st *cspState) supported(i int, a Value, j int) bool {
	if st.liveCount[j]-st.slotLive[j][a.Slot] > 0 {
		return true
	}
	dj := st.p.Sessions[j].Domain
	for _, pos := range st.p.Sessions[j].bySlot[a.Slot] {
		if st.live[j][pos] && !st.p.Clash(i, a, j, dj[pos]) {
			return true
		}
	}
	return false
}
