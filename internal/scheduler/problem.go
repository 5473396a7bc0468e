package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// ErrInvalidSnapshot marks malformed or inconsistent snapshot data.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Slot is one cell of the weekly grid.
type Slot struct {
	Index     int
	Day       models.Day
	Start     int
	End       int
	StartTime string
	EndTime   string
}

// Value is a (slot, room, teacher) triple. Fields index into the problem tables.
type Value struct {
	Slot    int
	Room    int
	Teacher int
}

// Session is one placement unit of a course.
type Session struct {
	Index    int
	Course   int
	Ordinal  int
	Division string
	Batch    string
	Duration int
	Domain   []Value
	// bySlot groups domain positions by slot index for propagation.
	bySlot map[int][]int
}

// Problem is the compiled, read-only search space for one run. It may be shared across goroutines.
type Problem struct {
	Snapshot    *models.Snapshot
	Settings    models.GenerationSettings
	Constraints ConstraintSet
	Slots       []Slot
	Teachers    []models.Teacher
	Rooms       []models.Classroom
	Courses     []models.Course
	Sessions    []Session

	teacherIndex map[string]int
	roomIndex    map[string]int
	neighbors    [][]int
	windowMins   int
}

// ValidateSnapshot checks referential integrity and field formats. Failures are data errors.
func ValidateSnapshot(snapshot *models.Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: snapshot is required", ErrInvalidSnapshot)
	}
	validate := models.NewValidator()
	if err := validate.Struct(snapshot); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	teachers := make(map[string]struct{}, len(snapshot.Teachers))
	for _, t := range snapshot.Teachers {
		if _, dup := teachers[t.ID]; dup {
			return fmt.Errorf("%w: duplicate teacher id %s", ErrInvalidSnapshot, t.ID)
		}
		teachers[t.ID] = struct{}{}
		for _, w := range t.Availability {
			if !w.Day.Valid() {
				return fmt.Errorf("%w: teacher %s availability uses unknown day %q", ErrInvalidSnapshot, t.ID, w.Day)
			}
			if w.EndTime <= w.StartTime {
				return fmt.Errorf("%w: teacher %s availability window %s-%s is empty", ErrInvalidSnapshot, t.ID, w.StartTime, w.EndTime)
			}
		}
	}
	rooms := make(map[string]struct{}, len(snapshot.Classrooms))
	for _, r := range snapshot.Classrooms {
		if _, dup := rooms[r.ID]; dup {
			return fmt.Errorf("%w: duplicate classroom id %s", ErrInvalidSnapshot, r.ID)
		}
		rooms[r.ID] = struct{}{}
	}
	courses := make(map[string]struct{}, len(snapshot.Courses))
	for _, c := range snapshot.Courses {
		if _, dup := courses[c.ID]; dup {
			return fmt.Errorf("%w: duplicate course id %s", ErrInvalidSnapshot, c.ID)
		}
		courses[c.ID] = struct{}{}
		if c.RequiredSessions > 0 && len(c.AssignedTeachers) == 0 {
			return fmt.Errorf("%w: course %s has no assigned teachers", ErrInvalidSnapshot, c.ID)
		}
		for _, teacherID := range c.AssignedTeachers {
			if _, ok := teachers[teacherID]; !ok {
				return fmt.Errorf("%w: course %s references unknown teacher %s", ErrInvalidSnapshot, c.ID, teacherID)
			}
		}
	}
	if snapshot.SessionCount() > 0 && len(snapshot.Classrooms) == 0 {
		return fmt.Errorf("%w: sessions requested but no classrooms supplied", ErrInvalidSnapshot)
	}
	return nil
}

// BuildProblem compiles the snapshot into slots, sessions and per-session domains.
// Settings must already carry defaults.
func BuildProblem(snapshot *models.Snapshot, settings models.GenerationSettings) (*Problem, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("%w: snapshot is required", ErrInvalidSnapshot)
	}
	start, err := parseClock(settings.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	end, err := parseClock(settings.EndTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if settings.SlotDuration <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive", ErrInvalidSnapshot)
	}

	p := &Problem{
		Snapshot:     snapshot,
		Settings:     settings,
		Constraints:  NewConstraintSet(settings),
		Teachers:     snapshot.Teachers,
		Rooms:        snapshot.Classrooms,
		Courses:      snapshot.Courses,
		teacherIndex: make(map[string]int, len(snapshot.Teachers)),
		roomIndex:    make(map[string]int, len(snapshot.Classrooms)),
		windowMins:   end - start,
	}
	for i, t := range p.Teachers {
		p.teacherIndex[t.ID] = i
	}
	for i, r := range p.Rooms {
		p.roomIndex[r.ID] = i
	}

	p.Slots = buildSlots(settings, start, end)
	p.buildSessions()
	p.buildNeighbors()
	return p, nil
}

func buildSlots(settings models.GenerationSettings, start, end int) []Slot {
	days := append([]models.Day(nil), settings.WorkingDays...)
	sort.SliceStable(days, func(i, j int) bool { return days[i].Index() < days[j].Index() })

	var slots []Slot
	for _, day := range days {
		for t := start; t+settings.SlotDuration <= end; t += settings.SlotDuration {
			slot := Slot{
				Day:       day,
				Start:     t,
				End:       t + settings.SlotDuration,
				StartTime: formatClock(t),
				EndTime:   formatClock(t + settings.SlotDuration),
			}
			if settings.EnforceBreaks && hitsBreak(settings.BreakSlots, slot) {
				continue
			}
			slot.Index = len(slots)
			slots = append(slots, slot)
		}
	}
	return slots
}

func hitsBreak(breaks []models.BreakSlot, slot Slot) bool {
	for _, b := range breaks {
		if len(b.Days) > 0 && !containsDay(b.Days, slot.Day) {
			continue
		}
		if overlaps(slot.StartTime, slot.EndTime, b.StartTime, b.EndTime) {
			return true
		}
	}
	return false
}

func containsDay(days []models.Day, day models.Day) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func (p *Problem) buildSessions() {
	for ci, course := range p.Courses {
		domain := p.courseDomain(course)
		for n := 0; n < course.RequiredSessions; n++ {
			session := Session{
				Index:    len(p.Sessions),
				Course:   ci,
				Ordinal:  n + 1,
				Division: course.DivisionID,
				Batch:    course.BatchID,
				Duration: p.Settings.SlotDuration,
				Domain:   domain,
				bySlot:   make(map[int][]int),
			}
			for pos, v := range domain {
				session.bySlot[v.Slot] = append(session.bySlot[v.Slot], pos)
			}
			p.Sessions = append(p.Sessions, session)
		}
	}
}

// courseDomain is shared between sessions of a course; sessions never mutate it.
func (p *Problem) courseDomain(course models.Course) []Value {
	var rooms []int
	for ri, room := range p.Rooms {
		if roomFits(room, course) {
			rooms = append(rooms, ri)
		}
	}
	var teachers []int
	for _, id := range course.AssignedTeachers {
		if ti, ok := p.teacherIndex[id]; ok {
			teachers = append(teachers, ti)
		}
	}

	var domain []Value
	for _, slot := range p.Slots {
		for _, ti := range teachers {
			if !teacherAvailable(p.Teachers[ti], slot.Day, slot.StartTime, slot.EndTime) {
				continue
			}
			for _, ri := range rooms {
				domain = append(domain, Value{Slot: slot.Index, Room: ri, Teacher: ti})
			}
		}
	}
	return domain
}

// requiredFeatures returns the course's features, or "lab" for lab sessions without an explicit list.
func requiredFeatures(course models.Course) []string {
	if len(course.RequiredFeatures) > 0 {
		return course.RequiredFeatures
	}
	if course.SessionType == models.SessionLab {
		return []string{"lab"}
	}
	return nil
}

func roomFits(room models.Classroom, course models.Course) bool {
	if !room.Bookable() || room.Capacity < course.EnrolledStudents {
		return false
	}
	for _, f := range requiredFeatures(course) {
		if !room.HasFeature(f) {
			return false
		}
	}
	return true
}

// teacherAvailable treats an empty availability list as always available.
func teacherAvailable(teacher models.Teacher, day models.Day, start, end string) bool {
	if len(teacher.Availability) == 0 {
		return true
	}
	for _, w := range teacher.Availability {
		if w.Day == day && containsWindow(w.StartTime, w.EndTime, start, end) {
			return true
		}
	}
	return false
}

func (p *Problem) buildNeighbors() {
	n := len(p.Sessions)
	teacherSets := make([]map[int]bool, n)
	roomSets := make([]map[int]bool, n)
	for i, s := range p.Sessions {
		teacherSets[i] = make(map[int]bool)
		roomSets[i] = make(map[int]bool)
		for _, v := range s.Domain {
			teacherSets[i][v.Teacher] = true
			roomSets[i][v.Room] = true
		}
	}
	p.neighbors = make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if p.groupsClash(i, j) || intersects(teacherSets[i], teacherSets[j]) || intersects(roomSets[i], roomSets[j]) {
				p.neighbors[i] = append(p.neighbors[i], j)
				p.neighbors[j] = append(p.neighbors[j], i)
			}
		}
	}
}

func intersects(a, b map[int]bool) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if b[k] {
			return true
		}
	}
	return false
}

// batchesClash applies the student-group rule: sessions of one division collide
// unless both name a batch and the batches differ.
func batchesClash(divisionA, batchA, divisionB, batchB string) bool {
	if divisionA == "" || divisionA != divisionB {
		return false
	}
	return batchA == "" || batchB == "" || batchA == batchB
}

func (p *Problem) groupsClash(i, j int) bool {
	a, b := p.Sessions[i], p.Sessions[j]
	return batchesClash(a.Division, a.Batch, b.Division, b.Batch)
}

// Clash reports whether two placed sessions break a pairwise hard constraint.
func (p *Problem) Clash(i int, vi Value, j int, vj Value) bool {
	if vi.Slot != vj.Slot {
		return false
	}
	return vi.Teacher == vj.Teacher || vi.Room == vj.Room || p.groupsClash(i, j)
}

// Neighbors returns the sessions that can ever clash with session i.
func (p *Problem) Neighbors(i int) []int {
	return p.neighbors[i]
}

// SessionCount returns the number of placement units.
func (p *Problem) SessionCount() int {
	return len(p.Sessions)
}

// Unplaceable lists sessions whose domain is empty.
func (p *Problem) Unplaceable() []int {
	var out []int
	for _, s := range p.Sessions {
		if len(s.Domain) == 0 {
			out = append(out, s.Index)
		}
	}
	return out
}

// TeacherMinutesCap returns the weekly cap in minutes, or -1 when uncapped.
func (p *Problem) TeacherMinutesCap(teacher int) int {
	hours := p.Teachers[teacher].MaxHoursPerWeek
	if hours <= 0 {
		return -1
	}
	return int(hours * 60)
}

// Assignment materialises one placed session.
func (p *Problem) Assignment(session int, v Value) models.TimeSlotAssignment {
	s := p.Sessions[session]
	course := p.Courses[s.Course]
	slot := p.Slots[v.Slot]
	return models.TimeSlotAssignment{
		Day:          slot.Day,
		StartTime:    slot.StartTime,
		EndTime:      slot.EndTime,
		CourseID:     course.ID,
		SessionType:  course.SessionType,
		TeacherID:    p.Teachers[v.Teacher].ID,
		ClassroomID:  p.Rooms[v.Room].ID,
		DivisionID:   course.DivisionID,
		BatchID:      course.BatchID,
		StudentCount: course.EnrolledStudents,
	}
}

// Describe gives a readable label for a session.
func (p *Problem) Describe(session int) string {
	s := p.Sessions[session]
	course := p.Courses[s.Course]
	label := course.ID
	if course.Code != "" {
		label = course.Code
	}
	return fmt.Sprintf("%s session %d/%d", label, s.Ordinal, course.RequiredSessions)
}

// unplaceableReason explains why a session has an empty domain.
func (p *Problem) unplaceableReason(session int) string {
	course := p.Courses[p.Sessions[session].Course]
	var reasons []string
	if len(p.Slots) == 0 {
		reasons = append(reasons, "no time slots remain in the working-day window")
	}
	fits := 0
	for _, room := range p.Rooms {
		if roomFits(room, course) {
			fits++
		}
	}
	if fits == 0 {
		reasons = append(reasons, fmt.Sprintf("no available classroom with capacity %d and features %v", course.EnrolledStudents, requiredFeatures(course)))
	}
	available := false
	for _, id := range course.AssignedTeachers {
		ti, ok := p.teacherIndex[id]
		if !ok {
			continue
		}
		for _, slot := range p.Slots {
			if teacherAvailable(p.Teachers[ti], slot.Day, slot.StartTime, slot.EndTime) {
				available = true
				break
			}
		}
	}
	if !available {
		reasons = append(reasons, "no assigned teacher is available for any slot")
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "empty domain")
	}
	return strings.Join(reasons, "; ")
}
