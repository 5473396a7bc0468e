package models

import (
	"sort"
	"time"
)

// Day is one of the six teaching weekdays. Sunday is not part of the domain.
type Day string

const (
	DayMonday    Day = "Monday"
	DayTuesday   Day = "Tuesday"
	DayWednesday Day = "Wednesday"
	DayThursday  Day = "Thursday"
	DayFriday    Day = "Friday"
	DaySaturday  Day = "Saturday"
)

// Weekdays lists the valid days in calendar order.
var Weekdays = []Day{DayMonday, DayTuesday, DayWednesday, DayThursday, DayFriday, DaySaturday}

var dayOrder = map[Day]int{
	DayMonday:    1,
	DayTuesday:   2,
	DayWednesday: 3,
	DayThursday:  4,
	DayFriday:    5,
	DaySaturday:  6,
}

// Index returns the 1-based weekday position, or 0 when the day is unknown.
func (d Day) Index() int {
	return dayOrder[d]
}

// Valid reports whether d belongs to Monday..Saturday.
func (d Day) Valid() bool {
	return d.Index() > 0
}

// SessionType classifies a course meeting.
type SessionType string

const (
	SessionLecture   SessionType = "lecture"
	SessionLab       SessionType = "lab"
	SessionTutorial  SessionType = "tutorial"
	SessionPractical SessionType = "practical"
)

// ClassroomStatus tracks whether a room can be booked.
type ClassroomStatus string

const (
	ClassroomAvailable   ClassroomStatus = "available"
	ClassroomMaintenance ClassroomStatus = "maintenance"
	ClassroomUnavailable ClassroomStatus = "unavailable"
)

// TimeWindow is a half-open [StartTime, EndTime) range on one day. Times are HH:MM.
type TimeWindow struct {
	Day       Day    `json:"day" yaml:"day" validate:"required"`
	StartTime string `json:"startTime" yaml:"startTime" validate:"required,hhmm"`
	EndTime   string `json:"endTime" yaml:"endTime" validate:"required,hhmm"`
}

// TimeRange is a day-independent half-open range.
type TimeRange struct {
	StartTime string `json:"startTime" yaml:"startTime" validate:"required,hhmm"`
	EndTime   string `json:"endTime" yaml:"endTime" validate:"required,hhmm"`
}

// TeacherPreferences carries optional soft preferences used for satisfaction scoring.
type TeacherPreferences struct {
	PreferredDays       []Day       `json:"preferredDays,omitempty" yaml:"preferredDays,omitempty"`
	AvoidDays           []Day       `json:"avoidDays,omitempty" yaml:"avoidDays,omitempty"`
	PreferredTimeRanges []TimeRange `json:"preferredTimeRanges,omitempty" yaml:"preferredTimeRanges,omitempty"`
}

// Empty reports whether no preference was supplied.
func (p *TeacherPreferences) Empty() bool {
	return p == nil || (len(p.PreferredDays) == 0 && len(p.AvoidDays) == 0 && len(p.PreferredTimeRanges) == 0)
}

// Teacher is immutable reference data for one generation run.
type Teacher struct {
	ID              string              `db:"id" json:"id" yaml:"id" validate:"required"`
	Name            string              `db:"name" json:"name" yaml:"name"`
	Availability    []TimeWindow        `db:"-" json:"availability,omitempty" yaml:"availability,omitempty" validate:"dive"`
	MaxHoursPerWeek float64             `db:"max_hours_per_week" json:"maxHoursPerWeek" yaml:"maxHoursPerWeek" validate:"min=0"`
	Preferences     *TeacherPreferences `db:"-" json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// Classroom is a bookable room.
type Classroom struct {
	ID       string          `db:"id" json:"id" yaml:"id" validate:"required"`
	Name     string          `db:"name" json:"name" yaml:"name"`
	Capacity int             `db:"capacity" json:"capacity" yaml:"capacity" validate:"min=0"`
	Features []string        `db:"-" json:"features,omitempty" yaml:"features,omitempty"`
	Status   ClassroomStatus `db:"status" json:"status" yaml:"status"`
}

// Bookable reports whether the room may receive sessions.
func (c Classroom) Bookable() bool {
	return c.Status == "" || c.Status == ClassroomAvailable
}

// HasFeature reports whether the room advertises the given feature.
func (c Classroom) HasFeature(feature string) bool {
	for _, f := range c.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Course describes the weekly demand for one course offering.
type Course struct {
	ID               string      `db:"id" json:"id" yaml:"id" validate:"required"`
	Name             string      `db:"name" json:"name" yaml:"name"`
	Code             string      `db:"code" json:"code" yaml:"code"`
	RequiredSessions int         `db:"required_sessions" json:"requiredSessions" yaml:"requiredSessions" validate:"min=0"`
	SessionType      SessionType `db:"session_type" json:"sessionType" yaml:"sessionType"`
	AssignedTeachers []string    `db:"-" json:"assignedTeachers" yaml:"assignedTeachers"`
	EnrolledStudents int         `db:"enrolled_students" json:"enrolledStudents" yaml:"enrolledStudents" validate:"min=0"`
	DivisionID       string      `db:"division_id" json:"divisionId,omitempty" yaml:"divisionId,omitempty"`
	BatchID          string      `db:"batch_id" json:"batchId,omitempty" yaml:"batchId,omitempty"`
	RequiredFeatures []string    `db:"-" json:"requiredFeatures,omitempty" yaml:"requiredFeatures,omitempty"`
}

// TimeSlotAssignment is the atomic unit of a schedule.
type TimeSlotAssignment struct {
	Day          Day         `json:"day" yaml:"day" validate:"required"`
	StartTime    string      `json:"startTime" yaml:"startTime" validate:"required,hhmm"`
	EndTime      string      `json:"endTime" yaml:"endTime" validate:"required,hhmm"`
	CourseID     string      `json:"courseId" yaml:"courseId" validate:"required"`
	SessionType  SessionType `json:"sessionType" yaml:"sessionType"`
	TeacherID    string      `json:"teacherId" yaml:"teacherId"`
	ClassroomID  string      `json:"classroomId" yaml:"classroomId"`
	DivisionID   string      `json:"divisionId,omitempty" yaml:"divisionId,omitempty"`
	BatchID      string      `json:"batchId,omitempty" yaml:"batchId,omitempty"`
	StudentCount int         `json:"studentCount" yaml:"studentCount"`
}

// SlotKey returns the Day_start_end composite key used for traceability.
func (a TimeSlotAssignment) SlotKey() string {
	return string(a.Day) + "_" + a.StartTime + "_" + a.EndTime
}

// Schedule is an ordered set of assignments. Order carries no meaning but is kept stable.
type Schedule []TimeSlotAssignment

// Clone returns an independently owned copy.
func (s Schedule) Clone() Schedule {
	if s == nil {
		return nil
	}
	out := make(Schedule, len(s))
	copy(out, s)
	return out
}

// Sort orders assignments by day, start time, course, teacher and room so hashing is reproducible.
func (s Schedule) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Day != b.Day {
			return a.Day.Index() < b.Day.Index()
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		if a.TeacherID != b.TeacherID {
			return a.TeacherID < b.TeacherID
		}
		return a.ClassroomID < b.ClassroomID
	})
}

// Snapshot is the read-only resource pool consumed by one generation run.
type Snapshot struct {
	TimetableID string             `json:"timetableId" yaml:"timetableId"`
	Teachers    []Teacher          `json:"teachers" yaml:"teachers" validate:"dive"`
	Classrooms  []Classroom        `json:"classrooms" yaml:"classrooms" validate:"dive"`
	Courses     []Course           `json:"courses" yaml:"courses" validate:"dive"`
	Settings    GenerationSettings `json:"settings" yaml:"settings"`
}

// SessionCount returns how many session units the snapshot asks to place.
func (s *Snapshot) SessionCount() int {
	if s == nil {
		return 0
	}
	total := 0
	for _, c := range s.Courses {
		total += c.RequiredSessions
	}
	return total
}

// GenerationStatus is the terminal outcome status of a run.
type GenerationStatus string

const (
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusDraft     GenerationStatus = "draft"
)

// RunStatus tracks the lifecycle of an asynchronous run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "QUEUED"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the run will not change state anymore.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// TerminationReason explains why a solver stopped.
type TerminationReason string

const (
	TerminationCompleted    TerminationReason = "completed"
	TerminationConverged    TerminationReason = "converged"
	TerminationMaxIteration TerminationReason = "max_iterations"
	TerminationStepLimit    TerminationReason = "step_limit"
	TerminationTimeout      TerminationReason = "timeout"
	TerminationCancelled    TerminationReason = "cancelled"
	TerminationFailed       TerminationReason = "failed"
)

// GenerationMetrics is produced once per run and immutable afterwards.
type GenerationMetrics struct {
	Algorithm            Algorithm         `json:"algorithm"`
	StartTime            time.Time         `json:"startTime"`
	EndTime              time.Time         `json:"endTime"`
	Duration             time.Duration     `json:"duration"`
	Iterations           int               `json:"iterations"`
	Generations          int               `json:"generations"`
	BacktrackSteps       int               `json:"backtrackSteps"`
	ConvergenceRate      float64           `json:"convergenceRate"`
	InitialFitness       float64           `json:"initialFitness"`
	FinalFitness         float64           `json:"finalFitness"`
	ConstraintsSatisfied int               `json:"constraintsSatisfied"`
	ConstraintsViolated  int               `json:"constraintsViolated"`
	SatisfactionRate     float64           `json:"satisfactionRate"`
	Termination          TerminationReason `json:"termination"`
	Cancelled            bool              `json:"cancelled"`
	Estimated            bool              `json:"estimated"`
	EstimatedFields      []string          `json:"estimatedFields,omitempty"`
	Phases               []PhaseMetrics    `json:"phases,omitempty"`
}

// PhaseMetrics describes one phase of a composite algorithm.
type PhaseMetrics struct {
	Name        string            `json:"name"`
	Duration    time.Duration     `json:"duration"`
	Iterations  int               `json:"iterations"`
	Fitness     float64           `json:"fitness"`
	Termination TerminationReason `json:"termination"`
}

// QualityScore holds normalised 0-100 sub-scores.
type QualityScore struct {
	OverallScore         float64  `json:"overallScore"`
	TeacherSatisfaction  float64  `json:"teacherSatisfaction"`
	RoomUtilization      float64  `json:"roomUtilization"`
	StudentConvenience   float64  `json:"studentConvenience"`
	ConstraintCompliance float64  `json:"constraintCompliance"`
	Estimated            bool     `json:"estimated"`
	EstimatedFields      []string `json:"estimatedFields,omitempty"`
	NotApplicable        bool     `json:"notApplicable,omitempty"`
}

// Statistics summarises a schedule for reporting.
type Statistics struct {
	TotalClasses                int                `json:"totalClasses"`
	TotalTeachers               int                `json:"totalTeachers"`
	TotalRooms                  int                `json:"totalRooms"`
	UtilizationByDay            map[Day]float64    `json:"utilizationByDay"`
	PeakHours                   []PeakHour         `json:"peakHours"`
	TeacherWorkloadDistribution map[string]float64 `json:"teacherWorkloadDistribution"`
}

// PeakHour counts concurrent sessions starting at one time of day.
type PeakHour struct {
	StartTime string `json:"startTime"`
	Sessions  int    `json:"sessions"`
}

// GenerationResult is the output contract handed to persistence and API layers.
type GenerationResult struct {
	RunID       string            `json:"runId,omitempty"`
	TimetableID string            `json:"timetableId,omitempty"`
	Status      GenerationStatus  `json:"status"`
	Schedule    Schedule          `json:"schedule"`
	Conflicts   []Conflict        `json:"conflicts"`
	Metrics     GenerationMetrics `json:"metrics"`
	Quality     QualityScore      `json:"quality"`
	Statistics  Statistics        `json:"statistics"`
}
