package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-engine/internal/dto"
	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/service"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/response"
)

type conflictAnalyzer interface {
	Detect(schedule models.Schedule, snapshot *models.Snapshot) (*service.ConflictReport, error)
	Score(schedule models.Schedule, snapshot *models.Snapshot) (models.QualityScore, error)
	Resolve(ctx context.Context, timetableID, conflictID, notes string) error
}

// ConflictHandler exposes post-hoc conflict detection, quality scoring and resolution marking.
type ConflictHandler struct {
	service  conflictAnalyzer
	validate *validator.Validate
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(svc *service.ConflictService) *ConflictHandler {
	return &ConflictHandler{service: svc, validate: models.NewValidator()}
}

// Detect godoc
// @Summary Detect conflicts in a schedule
// @Description Pure and idempotent. Supplying resources also reports availability, capacity, feature and weekly-hour violations.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleRequest true "Schedule"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /conflicts/detect [post]
func (h *ConflictHandler) Detect(c *gin.Context) {
	req, ok := h.bindSchedule(c)
	if !ok {
		return
	}
	report, err := h.service.Detect(req.Schedule, req.Resources)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report)
}

// Score godoc
// @Summary Score the quality of a schedule
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param payload body dto.ScheduleRequest true "Schedule"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /quality/score [post]
func (h *ConflictHandler) Score(c *gin.Context) {
	req, ok := h.bindSchedule(c)
	if !ok {
		return
	}
	score, err := h.service.Score(req.Schedule, req.Resources)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, score)
}

// Resolve godoc
// @Summary Mark a conflict as resolved
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param id path string true "Timetable ID"
// @Param conflictId path string true "Conflict ID"
// @Param payload body dto.ResolveConflictRequest true "Resolution notes"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /timetables/{id}/conflicts/{conflictId}/resolve [patch]
func (h *ConflictHandler) Resolve(c *gin.Context) {
	var req dto.ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return
	}
	if err := h.service.Resolve(c.Request.Context(), c.Param("id"), c.Param("conflictId"), req.Notes); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *ConflictHandler) bindSchedule(c *gin.Context) (dto.ScheduleRequest, bool) {
	var req dto.ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return req, false
	}
	return req, true
}
