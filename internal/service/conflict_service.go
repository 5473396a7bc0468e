package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
)

type conflictResolver interface {
	ResolveConflict(ctx context.Context, timetableID, conflictID, notes string) error
}

// ConflictReport is the outcome of a post-hoc detection pass.
type ConflictReport struct {
	Conflicts []models.Conflict           `json:"conflicts"`
	Summary   map[models.ConflictType]int `json:"summary"`
	Hard      int                         `json:"hard"`
}

// ConflictService exposes the detector and scorer outside of a generation run.
type ConflictService struct {
	resolver  conflictResolver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewConflictService constructs a ConflictService.
func NewConflictService(resolver conflictResolver, validate *validator.Validate, logger *zap.Logger) *ConflictService {
	if validate == nil {
		validate = models.NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConflictService{resolver: resolver, validator: validate, logger: logger}
}

// Detect reports pairwise clashes in schedule. When a snapshot is given, assignments are also
// checked against availability, capacity, features and weekly hours.
func (s *ConflictService) Detect(schedule models.Schedule, snapshot *models.Snapshot) (*ConflictReport, error) {
	if err := s.validateSchedule(schedule); err != nil {
		return nil, err
	}
	conflicts := scheduler.DetectConflicts(schedule)
	if snapshot != nil {
		conflicts = append(conflicts, scheduler.DetectViolations(snapshot, schedule)...)
	}
	report := &ConflictReport{Conflicts: conflicts, Summary: models.ConflictSummary(conflicts)}
	for _, c := range conflicts {
		if c.IsHard() {
			report.Hard++
		}
	}
	return report, nil
}

// Score rates a schedule. Conflicts are detected first so compliance reflects the schedule as given.
func (s *ConflictService) Score(schedule models.Schedule, snapshot *models.Snapshot) (models.QualityScore, error) {
	if err := s.validateSchedule(schedule); err != nil {
		return models.QualityScore{}, err
	}
	var (
		teachers   []models.Teacher
		classrooms []models.Classroom
		settings   models.GenerationSettings
	)
	if snapshot != nil {
		teachers, classrooms, settings = snapshot.Teachers, snapshot.Classrooms, snapshot.Settings
	}
	settings = settings.WithDefaults()
	if err := settings.Validate(s.validator); err != nil {
		return models.QualityScore{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	conflicts := scheduler.DetectConflicts(schedule)
	if snapshot != nil {
		conflicts = append(conflicts, scheduler.DetectViolations(snapshot, schedule)...)
	}
	return scheduler.ScoreQuality(schedule, conflicts, teachers, classrooms, settings), nil
}

// Resolve marks a conflict of the latest result as handled externally.
func (s *ConflictService) Resolve(ctx context.Context, timetableID, conflictID, notes string) error {
	if s.resolver == nil {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "conflict resolution is not available")
	}
	notes = strings.TrimSpace(notes)
	if err := s.resolver.ResolveConflict(ctx, timetableID, conflictID, notes); err != nil {
		return err
	}
	s.logger.Info("conflict resolved",
		zap.String("timetable_id", timetableID),
		zap.String("conflict_id", conflictID),
	)
	return nil
}

func (s *ConflictService) validateSchedule(schedule models.Schedule) error {
	for i := range schedule {
		if err := s.validator.Struct(schedule[i]); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment in schedule")
		}
		if schedule[i].EndTime <= schedule[i].StartTime {
			return appErrors.Clone(appErrors.ErrValidation, "assignment "+schedule[i].CourseID+" ends before it starts")
		}
	}
	return nil
}
