package scheduler

import (
	"math"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
)

const (
	conflictWeight = 10.0
	qualityWeight  = 1.0
)

// Evaluator scores candidates. It only reads the problem, so one evaluator may
// serve many goroutines as long as each evaluates a different candidate.
type Evaluator struct {
	problem *Problem
	scorer  Scorer
}

// NewEvaluator binds an evaluator to a compiled problem.
func NewEvaluator(p *Problem) *Evaluator {
	return &Evaluator{problem: p, scorer: NewScorer(p.Settings)}
}

// Evaluate computes and caches the candidate fitness:
// w1/(1+conflicts) + w2*overall/100 + sum(goal weight * goal satisfaction).
// Unplaced sessions count as conflicts so dropping a session never pays off.
func (e *Evaluator) Evaluate(c *Candidate) float64 {
	if c.evaluated {
		return c.Fitness
	}
	occ := occupancyFor(e.problem, c)
	conflicts := occ.hardConflicts() + (len(c.Genes) - c.Placed())
	schedule := e.problem.Schedule(c)
	quality := e.scorer.scoreCounted(schedule, conflicts, e.problem.Teachers)

	conflictTerm := 1 / (1 + float64(conflicts))
	fitness := conflictWeight*conflictTerm + qualityWeight*quality.OverallScore/100
	for _, goal := range e.problem.Constraints.Goals {
		fitness += goal.Weight * e.goalSatisfaction(goal.Name, conflictTerm, quality, schedule)
	}

	c.Fitness = fitness
	c.Conflicts = conflicts
	c.evaluated = true
	return fitness
}

func (e *Evaluator) goalSatisfaction(name models.GoalName, conflictTerm float64, q models.QualityScore, schedule models.Schedule) float64 {
	switch name {
	case models.GoalMinimizeConflicts:
		return conflictTerm
	case models.GoalBalancedSchedule:
		return workloadBalance(schedule, e.problem.Settings.WorkingDays)
	case models.GoalTeacherPreferences:
		return q.TeacherSatisfaction / 100
	case models.GoalResourceOptimization:
		return q.RoomUtilization / 100
	case models.GoalStudentConvenience:
		return q.StudentConvenience / 100
	}
	return 0
}

// workloadBalance is 1 when every teacher teaches the same amount each working day,
// falling towards 0 as the per-day load spreads out.
func workloadBalance(schedule models.Schedule, days []models.Day) float64 {
	if len(schedule) == 0 || len(days) == 0 {
		return 1
	}
	loads := make(map[string]map[models.Day]int)
	for _, a := range schedule {
		if loads[a.TeacherID] == nil {
			loads[a.TeacherID] = make(map[models.Day]int)
		}
		loads[a.TeacherID][a.Day]++
	}
	total := 0.0
	for _, perDay := range loads {
		mean, variance := 0.0, 0.0
		for _, d := range days {
			mean += float64(perDay[d])
		}
		mean /= float64(len(days))
		for _, d := range days {
			diff := float64(perDay[d]) - mean
			variance += diff * diff
		}
		variance /= float64(len(days))
		cv := 0.0
		if mean > 0 {
			cv = math.Sqrt(variance) / mean
		}
		total += 1 / (1 + cv)
	}
	return total / float64(len(loads))
}
