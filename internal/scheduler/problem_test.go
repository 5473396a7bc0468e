package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

func TestBuildProblemSlotGridSkipsBreaks(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Settings.EnforceBreaks = true
	snapshot.Settings.BreakSlots = []models.BreakSlot{
		{Name: "recess", StartTime: "10:00", EndTime: "10:30"},
		{Name: "assembly", StartTime: "08:00", EndTime: "09:00", Days: []models.Day{models.DayMonday}},
	}

	problem := fixtureProblem(t, snapshot)
	// 4 hourly slots per day, minus recess every day and assembly on Monday
	assert.Len(t, problem.Slots, 3*4-3-1)
	for _, slot := range problem.Slots {
		assert.NotEqual(t, "10:00", slot.StartTime)
		if slot.Day == models.DayMonday {
			assert.NotEqual(t, "08:00", slot.StartTime)
		}
	}
}

func TestBuildProblemDomainsRespectRoomsAndAvailability(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Teachers[1].Availability = []models.TimeWindow{{Day: models.DayTuesday, StartTime: "08:00", EndTime: "10:00"}}
	snapshot.Classrooms = append(snapshot.Classrooms, models.Classroom{ID: "R9", Capacity: 100, Status: models.ClassroomMaintenance})

	problem := fixtureProblem(t, snapshot)
	require.Len(t, problem.Sessions, snapshot.SessionCount())

	for _, session := range problem.Sessions {
		course := problem.Courses[session.Course]
		require.NotEmpty(t, session.Domain, course.ID)
		for _, v := range session.Domain {
			room := problem.Rooms[v.Room]
			assert.NotEqual(t, "R9", room.ID, "rooms under maintenance are never offered")
			assert.GreaterOrEqual(t, room.Capacity, course.EnrolledStudents)
			if course.ID == "CHEM" {
				assert.Equal(t, "LAB", room.ID)
			}
			if course.ID == "PHYS" {
				slot := problem.Slots[v.Slot]
				assert.Equal(t, models.DayTuesday, slot.Day)
				assert.Contains(t, []string{"08:00", "09:00"}, slot.StartTime)
			}
		}
	}
}

func TestBuildProblemUnplaceableSessions(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Courses[0].EnrolledStudents = 500

	problem := fixtureProblem(t, snapshot)
	assert.Len(t, problem.Unplaceable(), 3)
	assert.Contains(t, problem.unplaceableReason(problem.Unplaceable()[0]), "no available classroom with capacity 500")
}

func TestValidateSnapshotRejectsBrokenReferences(t *testing.T) {
	snapshot := fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Courses[0].AssignedTeachers = []string{"ghost"}
	err := ValidateSnapshot(snapshot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))

	snapshot = fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Teachers = append(snapshot.Teachers, models.Teacher{ID: "T1"})
	assert.ErrorIs(t, ValidateSnapshot(snapshot), ErrInvalidSnapshot)

	snapshot = fixtureSnapshot(models.AlgorithmGreedy)
	snapshot.Teachers[0].Availability = []models.TimeWindow{{Day: models.DayMonday, StartTime: "8:00", EndTime: "09:00"}}
	assert.ErrorIs(t, ValidateSnapshot(snapshot), ErrInvalidSnapshot)

	assert.NoError(t, ValidateSnapshot(fixtureSnapshot(models.AlgorithmGreedy)))
}

func TestConstraintSetValidate(t *testing.T) {
	set := NewConstraintSet(models.GenerationSettings{
		BalanceWorkload:   true,
		OptimizationGoals: []models.OptimizationGoal{{Name: models.GoalStudentConvenience, Weight: 0.4}},
	})
	require.NoError(t, set.Validate())
	assert.Len(t, set.Hard, len(HardConstraints))
	assert.Equal(t, 0.5, set.GoalWeight(models.GoalBalancedSchedule))
	assert.Equal(t, 0.4, set.GoalWeight(models.GoalStudentConvenience))

	set.Goals = append(set.Goals, SoftGoal{Name: "fastest_exit", Weight: 0.1})
	assert.Error(t, set.Validate())

	set = ConstraintSet{Goals: []SoftGoal{{Name: models.GoalTeacherPreferences, Weight: -1}}}
	assert.Error(t, set.Validate())
}
