package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// --- Fixtures ---

func fixtureSnapshot(algorithm models.Algorithm) *models.Snapshot {
	return &models.Snapshot{
		TimetableID: "tt-1",
		Teachers: []models.Teacher{
			{ID: "T1", Name: "Ana", MaxHoursPerWeek: 20},
			{ID: "T2", Name: "Budi", MaxHoursPerWeek: 20},
			{ID: "T3", Name: "Citra", MaxHoursPerWeek: 20},
		},
		Classrooms: []models.Classroom{
			{ID: "R1", Name: "Room 1", Capacity: 40, Status: models.ClassroomAvailable},
			{ID: "R2", Name: "Room 2", Capacity: 30, Status: models.ClassroomAvailable},
			{ID: "LAB", Name: "Lab", Capacity: 30, Features: []string{"lab"}, Status: models.ClassroomAvailable},
		},
		Courses: []models.Course{
			{ID: "MATH", Code: "MTK", RequiredSessions: 3, SessionType: models.SessionLecture, AssignedTeachers: []string{"T1"}, EnrolledStudents: 30, DivisionID: "X"},
			{ID: "PHYS", Code: "FIS", RequiredSessions: 2, SessionType: models.SessionLecture, AssignedTeachers: []string{"T2"}, EnrolledStudents: 30, DivisionID: "X"},
			{ID: "CHEM", Code: "KIM", RequiredSessions: 2, SessionType: models.SessionLab, AssignedTeachers: []string{"T3"}, EnrolledStudents: 25, DivisionID: "Y"},
			{ID: "ENG", Code: "ING", RequiredSessions: 2, SessionType: models.SessionLecture, AssignedTeachers: []string{"T1"}, EnrolledStudents: 25, DivisionID: "Y"},
		},
		Settings: models.GenerationSettings{
			Algorithm:    algorithm,
			WorkingDays:  []models.Day{models.DayMonday, models.DayTuesday, models.DayWednesday},
			StartTime:    "08:00",
			EndTime:      "12:00",
			SlotDuration: 60,
			Seed:         7,
			Workers:      2,
			Genetic: models.GeneticParams{
				PopulationSize: 12,
				MaxGenerations: 15,
				EliteSize:      models.Int(1),
			},
			Annealing: models.AnnealingParams{MaxIterations: 500},
			Hybrid:    models.HybridParams{GAGenerations: 10},
		},
	}
}

func fixtureProblem(t *testing.T, snapshot *models.Snapshot) *Problem {
	t.Helper()
	settings := snapshot.Settings.WithDefaults()
	problem, err := BuildProblem(snapshot, settings)
	require.NoError(t, err)
	return problem
}

func assignment(day models.Day, start, end, course, teacher, room string) models.TimeSlotAssignment {
	return models.TimeSlotAssignment{
		Day:          day,
		StartTime:    start,
		EndTime:      end,
		CourseID:     course,
		SessionType:  models.SessionLecture,
		TeacherID:    teacher,
		ClassroomID:  room,
		StudentCount: 20,
	}
}

func countType(conflicts []models.Conflict, kind models.ConflictType) int {
	n := 0
	for _, c := range conflicts {
		if c.Type == kind {
			n++
		}
	}
	return n
}

type recordingReporter struct {
	updates []Progress
}

func (r *recordingReporter) OnProgress(p Progress) {
	r.updates = append(r.updates, p)
}
