package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

// GenerateTimetableRequest starts a run. Settings replace the stored timetable settings when present.
type GenerateTimetableRequest struct {
	Settings *models.GenerationSettings `json:"settings,omitempty"`
}

// RunProgress mirrors the latest engine progress update.
type RunProgress struct {
	Percentage float64 `json:"percentage"`
	Step       string  `json:"step,omitempty"`
	Generation int     `json:"generation,omitempty"`
	Fitness    float64 `json:"fitness,omitempty"`
}

// GenerationRunResponse describes a run handle.
type GenerationRunResponse struct {
	RunID        string                  `json:"runId"`
	TimetableID  string                  `json:"timetableId"`
	Algorithm    models.Algorithm        `json:"algorithm"`
	Status       models.RunStatus        `json:"status"`
	Progress     RunProgress             `json:"progress"`
	ResultStatus models.GenerationStatus `json:"resultStatus,omitempty"`
	CreatedAt    time.Time               `json:"createdAt"`
	StartedAt    *time.Time              `json:"startedAt,omitempty"`
	FinishedAt   *time.Time              `json:"finishedAt,omitempty"`
}

// ScheduleRequest carries a schedule for post-hoc detection or scoring. Resources are optional;
// without them only pairwise clashes are checked and preference scores are estimated.
type ScheduleRequest struct {
	Schedule  models.Schedule  `json:"schedule" validate:"dive"`
	Resources *models.Snapshot `json:"resources,omitempty"`
}

// ResolveConflictRequest records how a conflict was handled outside the engine.
type ResolveConflictRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// ExportQuery selects the export format.
type ExportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
