package scheduler

import (
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const peakHourLimit = 5

// BuildStatistics summarises a schedule against the snapshot's resources and day window.
func BuildStatistics(schedule models.Schedule, snapshot *models.Snapshot, settings models.GenerationSettings) models.Statistics {
	settings = settings.WithDefaults()
	stats := models.Statistics{
		TotalClasses:                len(schedule),
		UtilizationByDay:            make(map[models.Day]float64, len(settings.WorkingDays)),
		PeakHours:                   []models.PeakHour{},
		TeacherWorkloadDistribution: make(map[string]float64),
	}

	teachers := make(map[string]struct{})
	rooms := make(map[string]struct{})
	dayMinutes := make(map[models.Day]int)
	starts := make(map[string]int)
	for _, a := range schedule {
		minutes := durationMinutes(a.StartTime, a.EndTime)
		if a.TeacherID != "" {
			teachers[a.TeacherID] = struct{}{}
			stats.TeacherWorkloadDistribution[a.TeacherID] += float64(minutes) / 60
		}
		if a.ClassroomID != "" {
			rooms[a.ClassroomID] = struct{}{}
		}
		dayMinutes[a.Day] += minutes
		starts[a.StartTime]++
	}
	stats.TotalTeachers = len(teachers)
	stats.TotalRooms = len(rooms)

	bookable := len(rooms)
	if snapshot != nil {
		bookable = 0
		for _, r := range snapshot.Classrooms {
			if r.Bookable() {
				bookable++
			}
		}
	}
	window := durationMinutes(settings.StartTime, settings.EndTime)
	for _, day := range settings.WorkingDays {
		capacity := bookable * window
		if capacity <= 0 {
			stats.UtilizationByDay[day] = 0
			continue
		}
		stats.UtilizationByDay[day] = clampScore(float64(dayMinutes[day]) / float64(capacity) * 100)
	}

	for start, count := range starts {
		stats.PeakHours = append(stats.PeakHours, models.PeakHour{StartTime: start, Sessions: count})
	}
	sort.Slice(stats.PeakHours, func(i, j int) bool {
		if stats.PeakHours[i].Sessions != stats.PeakHours[j].Sessions {
			return stats.PeakHours[i].Sessions > stats.PeakHours[j].Sessions
		}
		return stats.PeakHours[i].StartTime < stats.PeakHours[j].StartTime
	})
	if len(stats.PeakHours) > peakHourLimit {
		stats.PeakHours = stats.PeakHours[:peakHourLimit]
	}
	for id, hours := range stats.TeacherWorkloadDistribution {
		stats.TeacherWorkloadDistribution[id] = round2(hours)
	}
	return stats
}
