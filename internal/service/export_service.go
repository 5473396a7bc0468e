package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-engine/pkg/errors"
	"github.com/noah-isme/sma-timetable-engine/pkg/export"
)

// ExportFormat names a rendered timetable format.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered timetable ready to stream.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

type resultSource interface {
	LatestResult(ctx context.Context, timetableID string) (*models.GenerationResult, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type gridRenderer interface {
	RenderGrid(grid export.Grid, title string) ([]byte, error)
}

var scheduleHeaders = []string{"Day", "Start", "End", "Course", "Session Type", "Teacher", "Classroom", "Division", "Batch", "Students"}

// ExportService renders generation results as CSV rows or a weekly PDF grid.
type ExportService struct {
	results resultSource
	csv     csvRenderer
	pdf     gridRenderer
	logger  *zap.Logger
}

// NewExportService constructs an ExportService. results may be nil when only Render is used.
func NewExportService(results resultSource, logger *zap.Logger, csv csvRenderer, pdf gridRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{results: results, csv: csv, pdf: pdf, logger: logger}
}

// Export renders the latest result of a timetable.
func (s *ExportService) Export(ctx context.Context, timetableID string, format ExportFormat) (*ExportFile, error) {
	if _, err := parseFormat(format); err != nil {
		return nil, err
	}
	if s.results == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no result source configured")
	}
	result, err := s.results.LatestResult(ctx, timetableID)
	if err != nil {
		return nil, err
	}
	file, err := s.Render(result, format)
	if err != nil {
		return nil, err
	}
	s.logger.Info("timetable exported",
		zap.String("timetable_id", timetableID),
		zap.String("format", string(format)),
		zap.Int("bytes", len(file.Body)),
	)
	return file, nil
}

// Render turns a result into the requested format.
func (s *ExportService) Render(result *models.GenerationResult, format ExportFormat) (*ExportFile, error) {
	contentType, err := parseFormat(format)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable has no generation result")
	}
	schedule := result.Schedule.Clone()
	schedule.Sort()

	var body []byte
	switch format {
	case ExportFormatCSV:
		body, err = s.csv.Render(ScheduleDataset(schedule))
	case ExportFormatPDF:
		body, err = s.pdf.RenderGrid(WeeklyGrid(schedule), exportTitle(result))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render timetable")
	}
	return &ExportFile{
		Filename:    exportFilename(result, format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

// ScheduleDataset flattens a schedule into one CSV row per assignment.
func ScheduleDataset(schedule models.Schedule) export.Dataset {
	rows := make([]map[string]string, 0, len(schedule))
	for _, a := range schedule {
		rows = append(rows, map[string]string{
			"Day":          string(a.Day),
			"Start":        a.StartTime,
			"End":          a.EndTime,
			"Course":       a.CourseID,
			"Session Type": string(a.SessionType),
			"Teacher":      a.TeacherID,
			"Classroom":    a.ClassroomID,
			"Division":     a.DivisionID,
			"Batch":        a.BatchID,
			"Students":     strconv.Itoa(a.StudentCount),
		})
	}
	return export.Dataset{Headers: scheduleHeaders, Rows: rows}
}

// WeeklyGrid lays a schedule out with one column per scheduled day and one row per time band.
// Concurrent sessions share a cell, one line each.
func WeeklyGrid(schedule models.Schedule) export.Grid {
	daySeen := make(map[models.Day]bool)
	bandSeen := make(map[string]bool)
	var bands []string
	for _, a := range schedule {
		daySeen[a.Day] = true
		band := a.StartTime + "-" + a.EndTime
		if !bandSeen[band] {
			bandSeen[band] = true
			bands = append(bands, band)
		}
	}
	sort.Strings(bands)

	var days []models.Day
	for _, d := range models.Weekdays {
		if daySeen[d] {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = models.Weekdays[:5]
	}

	column := make(map[models.Day]int, len(days))
	grid := export.Grid{Corner: "Time"}
	for i, d := range days {
		column[d] = i
		grid.Columns = append(grid.Columns, string(d))
	}
	row := make(map[string]int, len(bands))
	for i, band := range bands {
		row[band] = i
		grid.Rows = append(grid.Rows, export.GridRow{Label: band, Cells: make([][]string, len(days))})
	}
	for _, a := range schedule {
		r := row[a.StartTime+"-"+a.EndTime]
		c := column[a.Day]
		grid.Rows[r].Cells[c] = append(grid.Rows[r].Cells[c], cellLine(a))
	}
	return grid
}

func cellLine(a models.TimeSlotAssignment) string {
	parts := []string{a.CourseID, a.TeacherID, a.ClassroomID}
	if a.DivisionID != "" {
		group := a.DivisionID
		if a.BatchID != "" {
			group += "/" + a.BatchID
		}
		parts = append(parts, group)
	}
	return strings.Join(parts, " | ")
}

func parseFormat(format ExportFormat) (string, error) {
	switch format {
	case ExportFormatCSV:
		return "text/csv", nil
	case ExportFormatPDF:
		return "application/pdf", nil
	}
	return "", appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unsupported export format %q", format))
}

func exportTitle(result *models.GenerationResult) string {
	title := "Timetable"
	if result.TimetableID != "" {
		title += " " + result.TimetableID
	}
	if result.Status == models.GenerationStatusDraft {
		title += " (draft)"
	}
	return title
}

func exportFilename(result *models.GenerationResult, format ExportFormat) string {
	name := "timetable_" + sanitizeFilename(result.TimetableID)
	if result.RunID != "" {
		run := result.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		name += "_" + run
	}
	return name + "." + string(format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
