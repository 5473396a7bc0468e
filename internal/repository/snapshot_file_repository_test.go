package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

const yamlSnapshot = `
teachers:
  - id: T1
    name: Ana
    maxHoursPerWeek: 20
    availability:
      - day: Monday
        startTime: "08:00"
        endTime: "12:00"
classrooms:
  - id: R1
    capacity: 40
    features: [projector]
    status: available
courses:
  - id: MATH
    code: MTK
    requiredSessions: 3
    sessionType: lecture
    assignedTeachers: [T1]
    enrolledStudents: 30
    divisionId: X
settings:
  algorithm: greedy
  workingDays: [Monday, Tuesday]
  startTime: "08:00"
  endTime: "12:00"
  slotDuration: 60
  genetic:
    populationSize: 20
`

func TestSnapshotFileRepositoryLoadsYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tt-1.yaml"), []byte(yamlSnapshot), 0o600))

	snapshot, err := NewSnapshotFileRepository(dir).Load(context.Background(), "tt-1")
	require.NoError(t, err)
	assert.Equal(t, "tt-1", snapshot.TimetableID)
	assert.Equal(t, models.AlgorithmGreedy, snapshot.Settings.Algorithm)
	assert.Equal(t, 20, snapshot.Settings.Genetic.PopulationSize)
	assert.Equal(t, []models.Day{models.DayMonday, models.DayTuesday}, snapshot.Settings.WorkingDays)
	require.Len(t, snapshot.Teachers, 1)
	assert.Equal(t, "08:00", snapshot.Teachers[0].Availability[0].StartTime)
	assert.Equal(t, []string{"T1"}, snapshot.Courses[0].AssignedTeachers)
	assert.Equal(t, 3, snapshot.SessionCount())
}

func TestSnapshotFileRepositoryLoadsJSON(t *testing.T) {
	dir := t.TempDir()
	body := `{
	"timetableId": "spring",
	"teachers": [{"id": "T1"}],
	"classrooms": [{"id": "R1", "capacity": 10}],
	"courses": [],
	"settings": {"algorithm": "csp"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tt-2.json"), []byte(body), 0o600))

	snapshot, err := NewSnapshotFileRepository(dir).Load(context.Background(), "tt-2")
	require.NoError(t, err)
	assert.Equal(t, "spring", snapshot.TimetableID)
	assert.Equal(t, models.AlgorithmCSP, snapshot.Settings.Algorithm)
}

func TestSnapshotFileRepositoryErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("teachers: [\n"), 0o600))
	repo := NewSnapshotFileRepository(dir)

	_, err := repo.Load(context.Background(), "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = repo.Load(context.Background(), "broken")
	assert.Equal(t, appErrors.ErrDataError.Code, appErrors.FromError(err).Code)

	_, err = repo.Load(context.Background(), "../etc/passwd")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
