package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type generationRunner interface {
	Start(ctx context.Context, timetableID string, overrides *models.GenerationSettings) (*service.RunHandle, error)
	Status(runID string) (*service.RunHandle, error)
	Cancel(runID string) (*service.RunHandle, error)
	Result(runID string) (*models.GenerationResult, error)
	LatestResult(ctx context.Context, timetableID string) (*models.GenerationResult, error)
}

// GenerationHandler exposes asynchronous timetable generation.
type GenerationHandler struct {
	service  generationRunner
	validate *validator.Validate
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(svc *service.TimetableGenerationService) *GenerationHandler {
	return &GenerationHandler{service: svc, validate: models.NewValidator()}
}

// Generate godoc
// @Summary Start a timetable generation run
// @Description Loads the timetable's resources and queues a run. Settings in the body replace the stored settings.
// @Tags Generation
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param payload body dto.GenerateTimetableRequest false "Optional settings override"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /timetables/{id}/generate [post]
func (h *GenerationHandler) Generate(c *gin.Context) {
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if req.Settings != nil {
		if err := h.validate.Struct(req.Settings); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
			return
		}
	}
	handle, err := h.service.Start(c.Request.Context(), c.Param("id"), req.Settings)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, runResponse(handle))
}

// Status godoc
// @Summary Get generation run status
// @Tags Generation
// @Produce json
// @Param runId path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generation-runs/{runId} [get]
func (h *GenerationHandler) Status(c *gin.Context) {
	handle, err := h.service.Status(c.Param("runId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runResponse(handle))
}

// Cancel godoc
// @Summary Cancel a generation run
// @Description The run stops at the next checkpoint and still produces a draft result.
// @Tags Generation
// @Produce json
// @Param runId path string true "Run ID"
// @Success 202 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /generation-runs/{runId} [delete]
func (h *GenerationHandler) Cancel(c *gin.Context) {
	handle, err := h.service.Cancel(c.Param("runId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, runResponse(handle))
}

// Result godoc
// @Summary Get the result of a finished run
// @Tags Generation
// @Produce json
// @Param runId path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /generation-runs/{runId}/result [get]
func (h *GenerationHandler) Result(c *gin.Context) {
	result, err := h.service.Result(c.Param("runId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, resultMeta(result))
}

// LatestResult godoc
// @Summary Get the latest result of a timetable
// @Tags Generation
// @Produce json
// @Param id path string true "Timetable ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id}/result [get]
func (h *GenerationHandler) LatestResult(c *gin.Context) {
	result, err := h.service.LatestResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, resultMeta(result))
}

func runResponse(handle *service.RunHandle) dto.GenerationRunResponse {
	progress := handle.Progress()
	resp := dto.GenerationRunResponse{
		RunID:       handle.ID,
		TimetableID: handle.TimetableID,
		Algorithm:   handle.Algorithm,
		Status:      handle.Status(),
		Progress: dto.RunProgress{
			Percentage: progress.Percentage,
			Step:       progress.Step,
			Generation: progress.Generation,
			Fitness:    progress.Fitness,
		},
		CreatedAt:  handle.CreatedAt,
		StartedAt:  optionalTime(handle.StartedAt()),
		FinishedAt: optionalTime(handle.FinishedAt()),
	}
	if result := handle.Result(); result != nil {
		resp.ResultStatus = result.Status
	}
	return resp
}

func resultMeta(result *models.GenerationResult) map[string]interface{} {
	return map[string]interface{}{
		"conflictSummary": models.ConflictSummary(result.Conflicts),
		"assignments":     len(result.Schedule),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
