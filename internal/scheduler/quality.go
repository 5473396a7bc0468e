package scheduler

import (
	"math"
	"sort"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const (
	// PlaceholderTeacherSatisfaction is reported when no teacher preference data exists.
	PlaceholderTeacherSatisfaction = 85.0
	// PlaceholderStudentConvenience is reported when no student-group data exists.
	PlaceholderStudentConvenience = 80.0
)

// Scorer computes QualityScore values for a working-day policy.
type Scorer struct {
	settings models.GenerationSettings
	goals    ConstraintSet
}

// NewScorer applies defaults to settings so callers may pass a partial policy.
func NewScorer(settings models.GenerationSettings) Scorer {
	settings = settings.WithDefaults()
	return Scorer{settings: settings, goals: NewConstraintSet(settings)}
}

// ScoreQuality is the package-level entry point for post-hoc scoring.
func ScoreQuality(schedule models.Schedule, conflicts []models.Conflict, teachers []models.Teacher, classrooms []models.Classroom, settings models.GenerationSettings) models.QualityScore {
	return NewScorer(settings).Score(schedule, conflicts, teachers, classrooms)
}

// Score derives a QualityScore from a schedule and its conflicts. Only unresolved
// conflicts count against compliance.
func (s Scorer) Score(schedule models.Schedule, conflicts []models.Conflict, teachers []models.Teacher, _ []models.Classroom) models.QualityScore {
	open := 0
	for _, c := range conflicts {
		if !c.Resolved {
			open++
		}
	}
	return s.scoreCounted(schedule, open, teachers)
}

func (s Scorer) scoreCounted(schedule models.Schedule, open int, teachers []models.Teacher) models.QualityScore {
	if len(schedule) == 0 && open == 0 {
		return models.QualityScore{NotApplicable: true}
	}

	var score models.QualityScore
	score.ConstraintCompliance = compliance(len(schedule), open)
	score.RoomUtilization = s.roomUtilization(schedule)

	teacherScore, measured := teacherSatisfaction(schedule, teachers)
	if measured {
		score.TeacherSatisfaction = teacherScore
	} else {
		score.TeacherSatisfaction = PlaceholderTeacherSatisfaction
		score.EstimatedFields = append(score.EstimatedFields, "teacherSatisfaction")
	}
	studentScore, measured := studentConvenience(schedule)
	if measured {
		score.StudentConvenience = studentScore
	} else {
		score.StudentConvenience = PlaceholderStudentConvenience
		score.EstimatedFields = append(score.EstimatedFields, "studentConvenience")
	}
	score.Estimated = len(score.EstimatedFields) > 0
	score.OverallScore = s.overall(score)
	return score
}

// compliance is 0 when nothing is placed.
func compliance(totalSlots, conflicts int) float64 {
	if totalSlots == 0 {
		return 0
	}
	value := float64(totalSlots-conflicts) / float64(totalSlots) * 100
	return clampScore(value)
}

func (s Scorer) roomUtilization(schedule models.Schedule) float64 {
	window := durationMinutes(s.settings.StartTime, s.settings.EndTime) * len(s.settings.WorkingDays)
	if window <= 0 {
		return 0
	}
	booked := make(map[string]int)
	for _, a := range schedule {
		if a.ClassroomID == "" {
			continue
		}
		booked[a.ClassroomID] += durationMinutes(a.StartTime, a.EndTime)
	}
	if len(booked) == 0 {
		return 0
	}
	total := 0.0
	for _, minutes := range booked {
		total += math.Min(100, float64(minutes)/float64(window)*100)
	}
	return round2(total / float64(len(booked)))
}

// teacherSatisfaction averages per-session preference fit for teachers that stated preferences.
func teacherSatisfaction(schedule models.Schedule, teachers []models.Teacher) (float64, bool) {
	prefs := make(map[string]*models.TeacherPreferences, len(teachers))
	for i := range teachers {
		if !teachers[i].Preferences.Empty() {
			prefs[teachers[i].ID] = teachers[i].Preferences
		}
	}
	if len(prefs) == 0 {
		return 0, false
	}
	total, n := 0.0, 0
	for _, a := range schedule {
		p, ok := prefs[a.TeacherID]
		if !ok {
			continue
		}
		total += preferenceFit(p, a)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return round2(total / float64(n) * 100), true
}

func preferenceFit(p *models.TeacherPreferences, a models.TimeSlotAssignment) float64 {
	checks, met := 0, 0
	if len(p.PreferredDays) > 0 {
		checks++
		if containsDay(p.PreferredDays, a.Day) {
			met++
		}
	}
	if len(p.AvoidDays) > 0 {
		checks++
		if !containsDay(p.AvoidDays, a.Day) {
			met++
		}
	}
	if len(p.PreferredTimeRanges) > 0 {
		checks++
		for _, r := range p.PreferredTimeRanges {
			if containsWindow(r.StartTime, r.EndTime, a.StartTime, a.EndTime) {
				met++
				break
			}
		}
	}
	if checks == 0 {
		return 1
	}
	return float64(met) / float64(checks)
}

// studentConvenience measures idle gaps per division and day: busy time over the day's span.
func studentConvenience(schedule models.Schedule) (float64, bool) {
	type groupDay struct {
		division string
		day      models.Day
	}
	days := make(map[groupDay][]models.TimeSlotAssignment)
	for _, a := range schedule {
		if a.DivisionID == "" {
			continue
		}
		key := groupDay{division: a.DivisionID, day: a.Day}
		days[key] = append(days[key], a)
	}
	if len(days) == 0 {
		return 0, false
	}
	total := 0.0
	for _, items := range days {
		total += dayCompactness(items)
	}
	return round2(total / float64(len(days)) * 100), true
}

func dayCompactness(items []models.TimeSlotAssignment) float64 {
	if len(items) < 2 {
		return 1
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StartTime < items[j].StartTime })
	first, last := mustClock(items[0].StartTime), 0
	busy, cursor := 0, first
	for _, a := range items {
		start, end := mustClock(a.StartTime), mustClock(a.EndTime)
		if end > last {
			last = end
		}
		if start < cursor {
			start = cursor
		}
		if end > start {
			busy += end - start
			cursor = end
		}
	}
	span := last - first
	if span <= 0 {
		return 1
	}
	return math.Min(1, float64(busy)/float64(span))
}

// overall maps supplied goals onto sub-scores; without positive weights it is the plain mean.
func (s Scorer) overall(score models.QualityScore) float64 {
	if !s.goals.HasWeights() {
		return round2((score.ConstraintCompliance + score.RoomUtilization + score.TeacherSatisfaction + score.StudentConvenience) / 4)
	}
	weights := map[string]float64{}
	for _, goal := range s.goals.Goals {
		if !goal.Supplied {
			continue
		}
		switch goal.Name {
		case models.GoalMinimizeConflicts:
			weights["compliance"] += goal.Weight
		case models.GoalResourceOptimization:
			weights["utilization"] += goal.Weight
		case models.GoalTeacherPreferences, models.GoalBalancedSchedule:
			weights["teacher"] += goal.Weight
		case models.GoalStudentConvenience:
			weights["student"] += goal.Weight
		}
	}
	sum := weights["compliance"] + weights["utilization"] + weights["teacher"] + weights["student"]
	if sum <= 0 {
		return round2((score.ConstraintCompliance + score.RoomUtilization + score.TeacherSatisfaction + score.StudentConvenience) / 4)
	}
	value := weights["compliance"]*score.ConstraintCompliance +
		weights["utilization"]*score.RoomUtilization +
		weights["teacher"]*score.TeacherSatisfaction +
		weights["student"]*score.StudentConvenience
	return round2(value / sum)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return round2(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
