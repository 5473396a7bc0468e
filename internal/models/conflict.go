package models

// ConflictType enumerates the conflict and error taxonomy.
type ConflictType string

const (
	ConflictTeacher             ConflictType = "teacher_conflict"
	ConflictRoom                ConflictType = "room_conflict"
	ConflictStudent             ConflictType = "student_conflict"
	ConflictConstraintViolation ConflictType = "constraint_violation"
	ConflictGenerationError     ConflictType = "generation_error"
	ConflictSystemError         ConflictType = "system_error"
	ConflictDataError           ConflictType = "data_error"
)

// Severity ranks how serious a conflict is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// InvolvedEntities lists every resource touched by a conflict.
type InvolvedEntities struct {
	Teachers   []string `json:"teachers"`
	Classrooms []string `json:"classrooms"`
	Courses    []string `json:"courses"`
	TimeSlot   string   `json:"timeSlot,omitempty"`
}

// Conflict is produced by the detector or by the orchestrator for failures.
// Resolution fields are only ever written by an external collaborator.
type Conflict struct {
	ID               string           `db:"id" json:"id"`
	Type             ConflictType     `db:"type" json:"type"`
	Severity         Severity         `db:"severity" json:"severity"`
	Description      string           `db:"description" json:"description"`
	InvolvedEntities InvolvedEntities `db:"-" json:"involvedEntities"`
	Resolved         bool             `db:"resolved" json:"resolved"`
	ResolutionNotes  string           `db:"resolution_notes" json:"resolutionNotes,omitempty"`
}

// IsHard reports whether the conflict represents a broken hard constraint or a failure.
func (c Conflict) IsHard() bool {
	switch c.Type {
	case ConflictTeacher, ConflictRoom, ConflictStudent:
		return true
	}
	return c.Severity == SeverityCritical
}

// ConflictSummary counts conflicts by type for list views and metrics.
func ConflictSummary(conflicts []Conflict) map[ConflictType]int {
	out := make(map[ConflictType]int)
	for _, c := range conflicts {
		out[c.Type]++
	}
	return out
}
