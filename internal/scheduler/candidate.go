package scheduler

import (
	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// Unplaced marks a gene whose session has no assignment.
const Unplaced = -1

// Candidate maps every session to a position in its domain. Each candidate is an
// independently owned value; workers never share one.
type Candidate struct {
	Genes     []int
	Fitness   float64
	Conflicts int
	evaluated bool
}

// NewCandidate returns an empty assignment for the problem.
func (p *Problem) NewCandidate() *Candidate {
	genes := make([]int, len(p.Sessions))
	for i := range genes {
		genes[i] = Unplaced
	}
	return &Candidate{Genes: genes}
}

// Clone deep-copies the candidate including its cached fitness.
func (c *Candidate) Clone() *Candidate {
	genes := make([]int, len(c.Genes))
	copy(genes, c.Genes)
	return &Candidate{Genes: genes, Fitness: c.Fitness, Conflicts: c.Conflicts, evaluated: c.evaluated}
}

// Invalidate drops the cached fitness after a mutation.
func (c *Candidate) Invalidate() {
	c.evaluated = false
}

// Evaluated reports whether Fitness is current.
func (c *Candidate) Evaluated() bool {
	return c.evaluated
}

// Placed counts assigned sessions.
func (c *Candidate) Placed() int {
	n := 0
	for _, g := range c.Genes {
		if g != Unplaced {
			n++
		}
	}
	return n
}

// Value returns the chosen triple for session i.
func (p *Problem) Value(c *Candidate, i int) (Value, bool) {
	g := c.Genes[i]
	if g == Unplaced || g >= len(p.Sessions[i].Domain) {
		return Value{}, false
	}
	return p.Sessions[i].Domain[g], true
}

// Schedule converts the candidate into assignments, sorted for stable output.
func (p *Problem) Schedule(c *Candidate) models.Schedule {
	schedule := make(models.Schedule, 0, len(c.Genes))
	for i := range c.Genes {
		if v, ok := p.Value(c, i); ok {
			schedule = append(schedule, p.Assignment(i, v))
		}
	}
	schedule.Sort()
	return schedule
}

// UnplacedSessions lists sessions without an assignment.
func (p *Problem) UnplacedSessions(c *Candidate) []int {
	var out []int
	for i, g := range c.Genes {
		if g == Unplaced {
			out = append(out, i)
		}
	}
	return out
}

type groupCell struct {
	division string
	slot     int
}

// occupancy tracks resource usage per slot so clash tests are O(1).
type occupancy struct {
	p          *Problem
	teacher    []int
	room       []int
	groups     map[groupCell]map[string]int
	teacherMin []int
}

func newOccupancy(p *Problem) *occupancy {
	slots := len(p.Slots)
	return &occupancy{
		p:          p,
		teacher:    make([]int, len(p.Teachers)*slots),
		room:       make([]int, len(p.Rooms)*slots),
		groups:     make(map[groupCell]map[string]int),
		teacherMin: make([]int, len(p.Teachers)),
	}
}

func occupancyFor(p *Problem, c *Candidate) *occupancy {
	occ := newOccupancy(p)
	for i := range c.Genes {
		if v, ok := p.Value(c, i); ok {
			occ.add(i, v)
		}
	}
	return occ
}

func (o *occupancy) add(session int, v Value) {
	slots := len(o.p.Slots)
	o.teacher[v.Teacher*slots+v.Slot]++
	o.room[v.Room*slots+v.Slot]++
	o.teacherMin[v.Teacher] += o.p.Sessions[session].Duration
	s := o.p.Sessions[session]
	if s.Division == "" {
		return
	}
	cell := groupCell{division: s.Division, slot: v.Slot}
	if o.groups[cell] == nil {
		o.groups[cell] = make(map[string]int)
	}
	o.groups[cell][s.Batch]++
}

func (o *occupancy) remove(session int, v Value) {
	slots := len(o.p.Slots)
	o.teacher[v.Teacher*slots+v.Slot]--
	o.room[v.Room*slots+v.Slot]--
	o.teacherMin[v.Teacher] -= o.p.Sessions[session].Duration
	s := o.p.Sessions[session]
	if s.Division == "" {
		return
	}
	cell := groupCell{division: s.Division, slot: v.Slot}
	if batches := o.groups[cell]; batches != nil {
		batches[s.Batch]--
		if batches[s.Batch] <= 0 {
			delete(batches, s.Batch)
		}
		if len(batches) == 0 {
			delete(o.groups, cell)
		}
	}
}

// clashes reports whether placing session at v would double-book a resource.
func (o *occupancy) clashes(session int, v Value) bool {
	slots := len(o.p.Slots)
	if o.teacher[v.Teacher*slots+v.Slot] > 0 || o.room[v.Room*slots+v.Slot] > 0 {
		return true
	}
	s := o.p.Sessions[session]
	if s.Division == "" {
		return false
	}
	batches := o.groups[groupCell{division: s.Division, slot: v.Slot}]
	if len(batches) == 0 {
		return false
	}
	if s.Batch == "" {
		return true
	}
	return batches[""] > 0 || batches[s.Batch] > 0
}

// exceedsHours reports whether placing session on v breaks the teacher's weekly cap.
func (o *occupancy) exceedsHours(session int, v Value) bool {
	limit := o.p.TeacherMinutesCap(v.Teacher)
	return limit >= 0 && o.teacherMin[v.Teacher]+o.p.Sessions[session].Duration > limit
}

func (o *occupancy) legal(session int, v Value) bool {
	return !o.clashes(session, v) && !o.exceedsHours(session, v)
}

// hardConflicts counts pairwise double-bookings plus weekly-hour overflows.
// Grid slots never partially overlap, so counting per cell equals the sweep result.
func (o *occupancy) hardConflicts() int {
	total := 0
	pairs := func(k int) int { return k * (k - 1) / 2 }
	for _, k := range o.teacher {
		if k > 1 {
			total += pairs(k)
		}
	}
	for _, k := range o.room {
		if k > 1 {
			total += pairs(k)
		}
	}
	for _, batches := range o.groups {
		whole := batches[""]
		total += pairs(whole)
		others := 0
		for batch, k := range batches {
			if batch == "" {
				continue
			}
			total += pairs(k)
			others += k
		}
		total += whole * others
	}
	for t, used := range o.teacherMin {
		if limit := o.p.TeacherMinutesCap(t); limit >= 0 && used > limit {
			total++
		}
	}
	return total
}
