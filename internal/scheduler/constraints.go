package scheduler

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// ConstraintKind names one rule of the constraint model.
type ConstraintKind string

const (
	HardTeacherConflict     ConstraintKind = "teacher_conflict"
	HardRoomConflict        ConstraintKind = "room_conflict"
	HardStudentConflict     ConstraintKind = "student_conflict"
	HardTeacherAvailability ConstraintKind = "teacher_availability"
	HardRoomCapacity        ConstraintKind = "room_capacity"
	HardRoomFeatures        ConstraintKind = "room_features"
	HardTeacherMaxHours     ConstraintKind = "teacher_max_hours"
)

// HardConstraints lists every rule a valid schedule must satisfy.
var HardConstraints = []ConstraintKind{
	HardTeacherConflict,
	HardRoomConflict,
	HardStudentConflict,
	HardTeacherAvailability,
	HardRoomCapacity,
	HardRoomFeatures,
	HardTeacherMaxHours,
}

// SoftGoal is a weighted preference contributing to fitness and quality.
// Only goals the caller supplied weight the overall quality score; derived
// goals steer fitness alone.
type SoftGoal struct {
	Name     models.GoalName
	Weight   float64
	Supplied bool
}

// ConstraintSet is the typed constraint model for one run. It is pure data.
type ConstraintSet struct {
	Hard            []ConstraintKind
	Goals           []SoftGoal
	EnforceBreaks   bool
	BalanceWorkload bool
}

var knownGoals = map[models.GoalName]bool{
	models.GoalMinimizeConflicts:    true,
	models.GoalBalancedSchedule:     true,
	models.GoalTeacherPreferences:   true,
	models.GoalResourceOptimization: true,
	models.GoalStudentConvenience:   true,
}

// NewConstraintSet derives the model from generation settings.
func NewConstraintSet(settings models.GenerationSettings) ConstraintSet {
	set := ConstraintSet{
		Hard:            append([]ConstraintKind(nil), HardConstraints...),
		EnforceBreaks:   settings.EnforceBreaks,
		BalanceWorkload: settings.BalanceWorkload,
	}
	for _, goal := range settings.OptimizationGoals {
		set.Goals = append(set.Goals, SoftGoal{Name: goal.Name, Weight: goal.Weight, Supplied: true})
	}
	if settings.BalanceWorkload && !set.HasGoal(models.GoalBalancedSchedule) {
		set.Goals = append(set.Goals, SoftGoal{Name: models.GoalBalancedSchedule, Weight: 0.5})
	}
	sort.SliceStable(set.Goals, func(i, j int) bool { return set.Goals[i].Name < set.Goals[j].Name })
	return set
}

// Validate rejects unknown goals, negative or oversized weights, and duplicates.
func (c ConstraintSet) Validate() error {
	seen := make(map[models.GoalName]bool, len(c.Goals))
	for _, goal := range c.Goals {
		if !knownGoals[goal.Name] {
			return fmt.Errorf("unknown optimization goal %q", goal.Name)
		}
		if goal.Weight < 0 || goal.Weight > 1 {
			return fmt.Errorf("goal %s weight %.2f outside [0,1]", goal.Name, goal.Weight)
		}
		if seen[goal.Name] {
			return fmt.Errorf("goal %s listed twice", goal.Name)
		}
		seen[goal.Name] = true
	}
	return nil
}

// HasGoal reports whether the named goal is active.
func (c ConstraintSet) HasGoal(name models.GoalName) bool {
	for _, goal := range c.Goals {
		if goal.Name == name {
			return true
		}
	}
	return false
}

// GoalWeight returns the weight of a goal, zero when inactive.
func (c ConstraintSet) GoalWeight(name models.GoalName) float64 {
	for _, goal := range c.Goals {
		if goal.Name == name {
			return goal.Weight
		}
	}
	return 0
}

// HasWeights reports whether any caller-supplied goal carries a positive weight.
func (c ConstraintSet) HasWeights() bool {
	for _, goal := range c.Goals {
		if goal.Supplied && goal.Weight > 0 {
			return true
		}
	}
	return false
}
