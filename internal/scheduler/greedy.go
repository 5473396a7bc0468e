package scheduler

import (
	"context"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// GreedySolver places sessions in one pass, hardest first, preferring the least
// loaded day of the session's group, then compacts idle gaps.
type GreedySolver struct {
	repairIterations int
}

// NewGreedySolver constructs the greedy variant.
func NewGreedySolver() *GreedySolver {
	return &GreedySolver{repairIterations: 12}
}

// Algorithm implements Solver.
func (g *GreedySolver) Algorithm() models.Algorithm { return models.AlgorithmGreedy }

// Solve implements Solver.
func (g *GreedySolver) Solve(ctx context.Context, p *Problem, progress ProgressReporter) (*Outcome, error) {
	if progress == nil {
		progress = NopReporter
	}
	eval := NewEvaluator(p)
	initial := p.NewCandidate()
	initialFitness := eval.Evaluate(initial)

	best, termination := g.Complete(ctx, p, initial, progress)
	final := eval.Evaluate(best)
	progress.OnProgress(Progress{Percentage: 100, Step: "greedy placement finished", Fitness: final})
	return &Outcome{
		Best:           best,
		Iterations:     len(p.Sessions),
		InitialFitness: initialFitness,
		FinalFitness:   final,
		Termination:    termination,
	}, nil
}

// greedyState tracks resource occupancy and per-group daily load while placing.
type greedyState struct {
	problem *Problem
	occ     *occupancy
	dayLoad map[string]map[models.Day]int
	genes   []int
}

func newGreedyState(p *Problem, c *Candidate) *greedyState {
	st := &greedyState{
		problem: p,
		occ:     newOccupancy(p),
		dayLoad: make(map[string]map[models.Day]int),
		genes:   append([]int(nil), c.Genes...),
	}
	for i := range st.genes {
		if v, ok := p.Value(c, i); ok {
			st.place(i, st.genes[i], v)
		}
	}
	return st
}

// groupKey is the division for grouped courses, otherwise the course itself.
func (st *greedyState) groupKey(session int) string {
	s := st.problem.Sessions[session]
	if s.Division != "" {
		return "d:" + s.Division
	}
	return "c:" + st.problem.Courses[s.Course].ID
}

func (st *greedyState) place(session, pos int, v Value) {
	st.genes[session] = pos
	st.occ.add(session, v)
	key := st.groupKey(session)
	if st.dayLoad[key] == nil {
		st.dayLoad[key] = make(map[models.Day]int)
	}
	st.dayLoad[key][st.problem.Slots[v.Slot].Day]++
}

func (st *greedyState) unplace(session int) {
	pos := st.genes[session]
	if pos == Unplaced {
		return
	}
	v := st.problem.Sessions[session].Domain[pos]
	st.occ.remove(session, v)
	st.dayLoad[st.groupKey(session)][st.problem.Slots[v.Slot].Day]--
	st.genes[session] = Unplaced
}

// candidates orders a session's domain: least loaded day, earliest slot, tightest room.
func (st *greedyState) candidates(session int) []int {
	p := st.problem
	s := p.Sessions[session]
	load := st.dayLoad[st.groupKey(session)]
	order := make([]int, len(s.Domain))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := s.Domain[order[i]], s.Domain[order[j]]
		da, db := p.Slots[a.Slot].Day, p.Slots[b.Slot].Day
		if load[da] != load[db] {
			return load[da] < load[db]
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		ca, cb := p.Rooms[a.Room].Capacity, p.Rooms[b.Room].Capacity
		if ca != cb {
			return ca < cb
		}
		return order[i] < order[j]
	})
	return order
}

// Complete fills every unplaced, placeable session of c without clashes where possible.
// Sessions that cannot be placed legally stay unplaced and surface as generation errors.
func (g *GreedySolver) Complete(ctx context.Context, p *Problem, c *Candidate, progress ProgressReporter) (*Candidate, models.TerminationReason) {
	if progress == nil {
		progress = NopReporter
	}
	st := newGreedyState(p, c)

	pending := p.UnplacedSessions(c)
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := p.Sessions[pending[i]], p.Sessions[pending[j]]
		if len(a.Domain) != len(b.Domain) {
			return len(a.Domain) < len(b.Domain)
		}
		ea, eb := p.Courses[a.Course].EnrolledStudents, p.Courses[b.Course].EnrolledStudents
		if ea != eb {
			return ea > eb
		}
		return a.Index < b.Index
	})

	termination := models.TerminationCompleted
	for n, session := range pending {
		if reason, stopped := stopReason(ctx); stopped {
			termination = reason
			break
		}
		domain := p.Sessions[session].Domain
		for _, pos := range st.candidates(session) {
			if st.occ.legal(session, domain[pos]) {
				st.place(session, pos, domain[pos])
				break
			}
		}
		if n%16 == 0 {
			progress.OnProgress(Progress{Percentage: percent(n+1, len(pending)) * 0.9, Step: "placing sessions"})
		}
	}
	if termination == models.TerminationCompleted {
		st.repairGaps(g.repairIterations)
	}
	return &Candidate{Genes: st.genes}, termination
}

// repairGaps moves grouped sessions to the earliest legal slot of the same day so
// the group's day starts early and idle gaps close. Each move strictly lowers a slot
// index, so the loop settles.
func (st *greedyState) repairGaps(maxIterations int) {
	p := st.problem
	for iter := 0; iter < maxIterations; iter++ {
		moved := false
		for session := range st.genes {
			pos := st.genes[session]
			if pos == Unplaced || p.Sessions[session].Division == "" {
				continue
			}
			current := p.Sessions[session].Domain[pos]
			first := firstSlotOfDay(p, p.Slots[current.Slot].Day)
			st.unplace(session)
			placed := false
			for earlier := first; earlier < current.Slot && !placed; earlier++ {
				for _, alt := range p.Sessions[session].bySlot[earlier] {
					v := p.Sessions[session].Domain[alt]
					if st.occ.legal(session, v) {
						st.place(session, alt, v)
						placed = true
						break
					}
				}
			}
			if placed {
				moved = true
				continue
			}
			st.place(session, pos, current)
		}
		if !moved {
			return
		}
	}
}

func firstSlotOfDay(p *Problem, day models.Day) int {
	for _, s := range p.Slots {
		if s.Day == day {
			return s.Index
		}
	}
	return -1
}
