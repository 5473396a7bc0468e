package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

// TimetableRepository stores terminal generation results and the conflict resolution marks
// applied to them afterwards.
type TimetableRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewTimetableRepository constructs the repository.
func NewTimetableRepository(db *sqlx.DB) *TimetableRepository {
	return &TimetableRepository{db: db, now: time.Now}
}

type runRow struct {
	ID          string         `db:"id"`
	TimetableID string         `db:"timetable_id"`
	Status      string         `db:"status"`
	Algorithm   string         `db:"algorithm"`
	Termination string         `db:"termination"`
	StartedAt   time.Time      `db:"started_at"`
	FinishedAt  time.Time      `db:"finished_at"`
	Metrics     types.JSONText `db:"metrics"`
	Quality     types.JSONText `db:"quality"`
	Statistics  types.JSONText `db:"statistics"`
}

type assignmentRow struct {
	RunID        string `db:"run_id"`
	Position     int    `db:"position"`
	Day          string `db:"day"`
	StartTime    string `db:"start_time"`
	EndTime      string `db:"end_time"`
	CourseID     string `db:"course_id"`
	SessionType  string `db:"session_type"`
	TeacherID    string `db:"teacher_id"`
	ClassroomID  string `db:"classroom_id"`
	DivisionID   string `db:"division_id"`
	BatchID      string `db:"batch_id"`
	StudentCount int    `db:"student_count"`
}

type conflictRow struct {
	ID              string         `db:"id"`
	RunID           string         `db:"run_id"`
	TimetableID     string         `db:"timetable_id"`
	Type            string         `db:"type"`
	Severity        string         `db:"severity"`
	Description     string         `db:"description"`
	TimeSlot        string         `db:"time_slot"`
	Teachers        pq.StringArray `db:"teachers"`
	Classrooms      pq.StringArray `db:"classrooms"`
	Courses         pq.StringArray `db:"courses"`
	Resolved        bool           `db:"resolved"`
	ResolutionNotes string         `db:"resolution_notes"`
}

const (
	insertRun = `INSERT INTO generation_runs (id, timetable_id, status, algorithm, termination, started_at, finished_at, metrics, quality, statistics)
		VALUES (:id, :timetable_id, :status, :algorithm, :termination, :started_at, :finished_at, :metrics, :quality, :statistics)`

	insertAssignment = `INSERT INTO timetable_assignments (run_id, position, day, start_time, end_time, course_id, session_type, teacher_id, classroom_id, division_id, batch_id, student_count)
		VALUES (:run_id, :position, :day, :start_time, :end_time, :course_id, :session_type, :teacher_id, :classroom_id, :division_id, :batch_id, :student_count)`

	insertConflict = `INSERT INTO timetable_conflicts (id, run_id, timetable_id, type, severity, description, time_slot, teachers, classrooms, courses, resolved, resolution_notes)
		VALUES (:id, :run_id, :timetable_id, :type, :severity, :description, :time_slot, :teachers, :classrooms, :courses, :resolved, :resolution_notes)`

	updateTimetableStatus = `UPDATE timetables SET status = $2, latest_run_id = $3, updated_at = $4 WHERE id = $1`

	selectLatestRun = `SELECT id, timetable_id, status, algorithm, termination, started_at, finished_at, metrics, quality, statistics
		FROM generation_runs WHERE timetable_id = $1 ORDER BY finished_at DESC LIMIT 1`

	selectAssignments = `SELECT run_id, position, day, start_time, end_time, course_id, session_type, teacher_id, classroom_id, division_id, batch_id, student_count
		FROM timetable_assignments WHERE run_id = $1 ORDER BY position`

	selectConflicts = `SELECT id, run_id, timetable_id, type, severity, description, time_slot, teachers, classrooms, courses, resolved, resolution_notes
		FROM timetable_conflicts WHERE run_id = $1 ORDER BY id`

	resolveConflict = `UPDATE timetable_conflicts SET resolved = TRUE, resolution_notes = $3, resolved_at = $4
		WHERE timetable_id = $1 AND id = $2
		AND run_id = (SELECT latest_run_id FROM timetables WHERE id = $1)`
)

// SaveResult writes the run, its schedule and its conflicts in one transaction and points the
// timetable at the new run.
func (r *TimetableRepository) SaveResult(ctx context.Context, result *models.GenerationResult) (err error) {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("save result: run id is required")
	}
	row, err := toRunRow(result)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin result tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, insertRun, row); err != nil {
		return fmt.Errorf("insert generation run: %w", err)
	}
	for i, a := range result.Schedule {
		if _, err = tx.NamedExecContext(ctx, insertAssignment, toAssignmentRow(result.RunID, i, a)); err != nil {
			return fmt.Errorf("insert assignment %d: %w", i, err)
		}
	}
	for _, c := range result.Conflicts {
		if _, err = tx.NamedExecContext(ctx, insertConflict, toConflictRow(result.RunID, result.TimetableID, c)); err != nil {
			return fmt.Errorf("insert conflict %s: %w", c.ID, err)
		}
	}
	if _, err = tx.ExecContext(ctx, updateTimetableStatus, result.TimetableID, string(result.Status), result.RunID, r.now().UTC()); err != nil {
		return fmt.Errorf("update timetable status: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit result tx: %w", err)
	}
	return nil
}

// LatestResult rebuilds the most recent stored result of a timetable.
func (r *TimetableRepository) LatestResult(ctx context.Context, timetableID string) (*models.GenerationResult, error) {
	var run runRow
	if err := r.db.GetContext(ctx, &run, selectLatestRun, timetableID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no stored result for timetable %s", timetableID))
		}
		return nil, fmt.Errorf("load latest run: %w", err)
	}

	result := &models.GenerationResult{
		RunID:       run.ID,
		TimetableID: run.TimetableID,
		Status:      models.GenerationStatus(run.Status),
		Schedule:    models.Schedule{},
		Conflicts:   []models.Conflict{},
	}
	if err := unmarshalJSON(run.Metrics, &result.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	if err := unmarshalJSON(run.Quality, &result.Quality); err != nil {
		return nil, fmt.Errorf("decode quality: %w", err)
	}
	if err := unmarshalJSON(run.Statistics, &result.Statistics); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}

	var assignments []assignmentRow
	if err := r.db.SelectContext(ctx, &assignments, selectAssignments, run.ID); err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	for _, a := range assignments {
		result.Schedule = append(result.Schedule, models.TimeSlotAssignment{
			Day:          models.Day(a.Day),
			StartTime:    a.StartTime,
			EndTime:      a.EndTime,
			CourseID:     a.CourseID,
			SessionType:  models.SessionType(a.SessionType),
			TeacherID:    a.TeacherID,
			ClassroomID:  a.ClassroomID,
			DivisionID:   a.DivisionID,
			BatchID:      a.BatchID,
			StudentCount: a.StudentCount,
		})
	}

	var conflicts []conflictRow
	if err := r.db.SelectContext(ctx, &conflicts, selectConflicts, run.ID); err != nil {
		return nil, fmt.Errorf("load conflicts: %w", err)
	}
	for _, c := range conflicts {
		result.Conflicts = append(result.Conflicts, models.Conflict{
			ID:          c.ID,
			Type:        models.ConflictType(c.Type),
			Severity:    models.Severity(c.Severity),
			Description: c.Description,
			InvolvedEntities: models.InvolvedEntities{
				Teachers:   nonNil(c.Teachers),
				Classrooms: nonNil(c.Classrooms),
				Courses:    nonNil(c.Courses),
				TimeSlot:   c.TimeSlot,
			},
			Resolved:        c.Resolved,
			ResolutionNotes: c.ResolutionNotes,
		})
	}
	return result, nil
}

// ResolveConflict marks a conflict of the timetable's latest run as resolved.
func (r *TimetableRepository) ResolveConflict(ctx context.Context, timetableID, conflictID, notes string) error {
	res, err := r.db.ExecContext(ctx, resolveConflict, timetableID, conflictID, notes, r.now().UTC())
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve conflict rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("conflict %s not found", conflictID))
	}
	return nil
}

func toRunRow(result *models.GenerationResult) (runRow, error) {
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return runRow{}, fmt.Errorf("encode metrics: %w", err)
	}
	quality, err := json.Marshal(result.Quality)
	if err != nil {
		return runRow{}, fmt.Errorf("encode quality: %w", err)
	}
	stats, err := json.Marshal(result.Statistics)
	if err != nil {
		return runRow{}, fmt.Errorf("encode statistics: %w", err)
	}
	return runRow{
		ID:          result.RunID,
		TimetableID: result.TimetableID,
		Status:      string(result.Status),
		Algorithm:   string(result.Metrics.Algorithm),
		Termination: string(result.Metrics.Termination),
		StartedAt:   result.Metrics.StartTime.UTC(),
		FinishedAt:  result.Metrics.EndTime.UTC(),
		Metrics:     types.JSONText(metrics),
		Quality:     types.JSONText(quality),
		Statistics:  types.JSONText(stats),
	}, nil
}

func toAssignmentRow(runID string, position int, a models.TimeSlotAssignment) assignmentRow {
	return assignmentRow{
		RunID:        runID,
		Position:     position,
		Day:          string(a.Day),
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		CourseID:     a.CourseID,
		SessionType:  string(a.SessionType),
		TeacherID:    a.TeacherID,
		ClassroomID:  a.ClassroomID,
		DivisionID:   a.DivisionID,
		BatchID:      a.BatchID,
		StudentCount: a.StudentCount,
	}
}

func toConflictRow(runID, timetableID string, c models.Conflict) conflictRow {
	return conflictRow{
		ID:              c.ID,
		RunID:           runID,
		TimetableID:     timetableID,
		Type:            string(c.Type),
		Severity:        string(c.Severity),
		Description:     c.Description,
		TimeSlot:        c.InvolvedEntities.TimeSlot,
		Teachers:        pq.StringArray(nonNil(c.InvolvedEntities.Teachers)),
		Classrooms:      pq.StringArray(nonNil(c.InvolvedEntities.Classrooms)),
		Courses:         pq.StringArray(nonNil(c.InvolvedEntities.Courses)),
		Resolved:        c.Resolved,
		ResolutionNotes: c.ResolutionNotes,
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
