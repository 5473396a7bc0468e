package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// SnapshotRepository reads the resource pool of one timetable from PostgreSQL.
type SnapshotRepository struct {
	db *sqlx.DB
}

// NewSnapshotRepository constructs the repository.
func NewSnapshotRepository(db *sqlx.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

type timetableRow struct {
	ID       string         `db:"id"`
	Settings types.JSONText `db:"settings"`
}

type teacherRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	MaxHoursPerWeek float64        `db:"max_hours_per_week"`
	Availability    types.JSONText `db:"availability"`
	Preferences     types.JSONText `db:"preferences"`
}

type classroomRow struct {
	ID       string         `db:"id"`
	Name     string         `db:"name"`
	Capacity int            `db:"capacity"`
	Features pq.StringArray `db:"features"`
	Status   string         `db:"status"`
}

type courseRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Code             string         `db:"code"`
	RequiredSessions int            `db:"required_sessions"`
	SessionType      string         `db:"session_type"`
	EnrolledStudents int            `db:"enrolled_students"`
	DivisionID       string         `db:"division_id"`
	BatchID          string         `db:"batch_id"`
	RequiredFeatures pq.StringArray `db:"required_features"`
	AssignedTeachers pq.StringArray `db:"assigned_teachers"`
}

const (
	selectTimetable = `SELECT id, settings FROM timetables WHERE id = $1`

	selectTeachers = `SELECT id, name, max_hours_per_week, availability, COALESCE(preferences, 'null'::jsonb) AS preferences
		FROM teachers WHERE timetable_id = $1 ORDER BY id`

	selectClassrooms = `SELECT id, name, capacity, features, status
		FROM classrooms WHERE timetable_id = $1 ORDER BY id`

	selectCourses = `SELECT c.id, c.name, c.code, c.required_sessions, c.session_type, c.enrolled_students,
		COALESCE(c.division_id, '') AS division_id, COALESCE(c.batch_id, '') AS batch_id, c.required_features,
		COALESCE(array_agg(ct.teacher_id ORDER BY ct.teacher_id) FILTER (WHERE ct.teacher_id IS NOT NULL), '{}') AS assigned_teachers
		FROM courses c
		LEFT JOIN course_teachers ct ON ct.timetable_id = c.timetable_id AND ct.course_id = c.id
		WHERE c.timetable_id = $1
		GROUP BY c.timetable_id, c.id
		ORDER BY c.id`
)

// Load assembles the snapshot for timetableID. Stored settings become the run's defaults.
func (r *SnapshotRepository) Load(ctx context.Context, timetableID string) (*models.Snapshot, error) {
	var tt timetableRow
	if err := r.db.GetContext(ctx, &tt, selectTimetable, timetableID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("timetable %s not found", timetableID))
		}
		return nil, fmt.Errorf("load timetable %s: %w", timetableID, err)
	}

	snapshot := &models.Snapshot{TimetableID: tt.ID}
	if err := unmarshalJSON(tt.Settings, &snapshot.Settings); err != nil {
		return nil, fmt.Errorf("decode settings of %s: %w", timetableID, err)
	}

	var teachers []teacherRow
	if err := r.db.SelectContext(ctx, &teachers, selectTeachers, timetableID); err != nil {
		return nil, fmt.Errorf("load teachers: %w", err)
	}
	for _, row := range teachers {
		teacher := models.Teacher{ID: row.ID, Name: row.Name, MaxHoursPerWeek: row.MaxHoursPerWeek}
		if err := unmarshalJSON(row.Availability, &teacher.Availability); err != nil {
			return nil, fmt.Errorf("decode availability of teacher %s: %w", row.ID, err)
		}
		if err := unmarshalJSON(row.Preferences, &teacher.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences of teacher %s: %w", row.ID, err)
		}
		snapshot.Teachers = append(snapshot.Teachers, teacher)
	}

	var rooms []classroomRow
	if err := r.db.SelectContext(ctx, &rooms, selectClassrooms, timetableID); err != nil {
		return nil, fmt.Errorf("load classrooms: %w", err)
	}
	for _, row := range rooms {
		snapshot.Classrooms = append(snapshot.Classrooms, models.Classroom{
			ID:       row.ID,
			Name:     row.Name,
			Capacity: row.Capacity,
			Features: []string(row.Features),
			Status:   models.ClassroomStatus(row.Status),
		})
	}

	var courses []courseRow
	if err := r.db.SelectContext(ctx, &courses, selectCourses, timetableID); err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}
	for _, row := range courses {
		snapshot.Courses = append(snapshot.Courses, models.Course{
			ID:               row.ID,
			Name:             row.Name,
			Code:             row.Code,
			RequiredSessions: row.RequiredSessions,
			SessionType:      models.SessionType(row.SessionType),
			AssignedTeachers: []string(row.AssignedTeachers),
			EnrolledStudents: row.EnrolledStudents,
			DivisionID:       row.DivisionID,
			BatchID:          row.BatchID,
			RequiredFeatures: []string(row.RequiredFeatures),
		})
	}

	return snapshot, nil
}

func unmarshalJSON(raw types.JSONText, dest interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
