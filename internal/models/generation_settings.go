package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// Algorithm selects the solver family for a run.
type Algorithm string

const (
	AlgorithmGreedy             Algorithm = "greedy"
	AlgorithmCSP                Algorithm = "csp"
	AlgorithmBacktracking       Algorithm = "backtracking"
	AlgorithmGenetic            Algorithm = "genetic"
	AlgorithmSimulatedAnnealing Algorithm = "simulated_annealing"
	AlgorithmHybrid             Algorithm = "hybrid"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{
	AlgorithmGreedy,
	AlgorithmCSP,
	AlgorithmBacktracking,
	AlgorithmGenetic,
	AlgorithmSimulatedAnnealing,
	AlgorithmHybrid,
}

// GoalName names a soft optimisation goal.
type GoalName string

const (
	GoalMinimizeConflicts    GoalName = "minimize_conflicts"
	GoalBalancedSchedule     GoalName = "balanced_schedule"
	GoalTeacherPreferences   GoalName = "teacher_preferences"
	GoalResourceOptimization GoalName = "resource_optimization"
	GoalStudentConvenience   GoalName = "student_convenience"
)

// OptimizationGoal weights one soft goal.
type OptimizationGoal struct {
	Name   GoalName `json:"name" yaml:"name" validate:"required,oneof=minimize_conflicts balanced_schedule teacher_preferences resource_optimization student_convenience"`
	Weight float64  `json:"weight" yaml:"weight" validate:"min=0,max=1"`
}

// BreakSlot blocks a time range on the listed days (all working days when empty).
type BreakSlot struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	StartTime string `json:"startTime" yaml:"startTime" validate:"required,hhmm"`
	EndTime   string `json:"endTime" yaml:"endTime" validate:"required,hhmm"`
	Days      []Day  `json:"days,omitempty" yaml:"days,omitempty"`
}

// CrossoverMode selects the GA recombination operator.
type CrossoverMode string

const (
	CrossoverUniform     CrossoverMode = "uniform"
	CrossoverSinglePoint CrossoverMode = "single_point"
)

// GeneticParams tunes the genetic algorithm. The rate and elite fields are
// pointers so an explicit 0 switches the operator off while nil takes the default.
type GeneticParams struct {
	PopulationSize   int           `json:"populationSize" yaml:"populationSize" validate:"omitempty,min=2,max=2000"`
	MaxGenerations   int           `json:"maxGenerations" yaml:"maxGenerations" validate:"omitempty,min=1,max=100000"`
	CrossoverRate    *float64      `json:"crossoverRate,omitempty" yaml:"crossoverRate,omitempty" validate:"omitempty,min=0,max=1"`
	MutationRate     *float64      `json:"mutationRate,omitempty" yaml:"mutationRate,omitempty" validate:"omitempty,min=0,max=1"`
	TournamentSize   int           `json:"tournamentSize" yaml:"tournamentSize" validate:"omitempty,min=1"`
	EliteSize        *int          `json:"eliteSize,omitempty" yaml:"eliteSize,omitempty" validate:"omitempty,min=0"`
	StagnationWindow int           `json:"stagnationWindow" yaml:"stagnationWindow" validate:"min=0"`
	CrossoverMode    CrossoverMode `json:"crossoverMode,omitempty" yaml:"crossoverMode,omitempty" validate:"omitempty,oneof=uniform single_point"`
}

// Crossover returns the crossover rate, zero when unset.
func (g GeneticParams) Crossover() float64 {
	if g.CrossoverRate == nil {
		return 0
	}
	return *g.CrossoverRate
}

// Mutation returns the mutation rate, zero when unset.
func (g GeneticParams) Mutation() float64 {
	if g.MutationRate == nil {
		return 0
	}
	return *g.MutationRate
}

// Elite returns the elite count, zero when unset.
func (g GeneticParams) Elite() int {
	if g.EliteSize == nil {
		return 0
	}
	return *g.EliteSize
}

// Int returns a pointer to v for optional settings fields.
func Int(v int) *int { return &v }

// Float returns a pointer to v for optional settings fields.
func Float(v float64) *float64 { return &v }

// CSPParams tunes the constraint-satisfaction solver.
type CSPParams struct {
	MaxBacktrackSteps int    `json:"maxBacktrackSteps" yaml:"maxBacktrackSteps" validate:"min=0"`
	VariableOrdering  string `json:"variableOrdering,omitempty" yaml:"variableOrdering,omitempty" validate:"omitempty,oneof=mrv static"`
	ValueOrdering     string `json:"valueOrdering,omitempty" yaml:"valueOrdering,omitempty" validate:"omitempty,oneof=lcv static"`
	Propagation       string `json:"propagation,omitempty" yaml:"propagation,omitempty" validate:"omitempty,oneof=forward_checking none"`
	Preprocessing     string `json:"preprocessing,omitempty" yaml:"preprocessing,omitempty" validate:"omitempty,oneof=ac3 none"`
	TimeLimitMs       int64  `json:"timeLimitMs" yaml:"timeLimitMs" validate:"min=0"`
}

// AnnealingParams tunes simulated annealing.
type AnnealingParams struct {
	InitialTemperature float64 `json:"initialTemperature" yaml:"initialTemperature" validate:"min=0"`
	CoolingRate        float64 `json:"coolingRate" yaml:"coolingRate" validate:"min=0,max=1"`
	MinTemperature     float64 `json:"minTemperature" yaml:"minTemperature" validate:"min=0"`
	MaxIterations      int     `json:"maxIterations" yaml:"maxIterations" validate:"min=0"`
	ReportEvery        int     `json:"reportEvery" yaml:"reportEvery" validate:"min=0"`
}

// HybridParams splits the budget between the CSP and GA phases.
type HybridParams struct {
	CSPTimeLimitMs int64   `json:"cspTimeLimitMs" yaml:"cspTimeLimitMs" validate:"min=0"`
	HybridRatio    float64 `json:"hybridRatio" yaml:"hybridRatio" validate:"min=0,max=1"`
	GAGenerations  int     `json:"gaGenerations" yaml:"gaGenerations" validate:"min=0"`
}

// GenerationSettings is the algorithm selector plus global calendar policy.
type GenerationSettings struct {
	Algorithm         Algorithm          `json:"algorithm" yaml:"algorithm" validate:"omitempty,oneof=greedy csp backtracking genetic simulated_annealing hybrid"`
	WorkingDays       []Day              `json:"workingDays" yaml:"workingDays" validate:"omitempty,dive,oneof=Monday Tuesday Wednesday Thursday Friday Saturday"`
	StartTime         string             `json:"startTime" yaml:"startTime" validate:"omitempty,hhmm"`
	EndTime           string             `json:"endTime" yaml:"endTime" validate:"omitempty,hhmm"`
	SlotDuration      int                `json:"slotDuration" yaml:"slotDuration" validate:"omitempty,min=5,max=480"`
	BreakSlots        []BreakSlot        `json:"breakSlots,omitempty" yaml:"breakSlots,omitempty" validate:"dive"`
	EnforceBreaks     bool               `json:"enforceBreaks" yaml:"enforceBreaks"`
	BalanceWorkload   bool               `json:"balanceWorkload" yaml:"balanceWorkload"`
	OptimizationGoals []OptimizationGoal `json:"optimizationGoals,omitempty" yaml:"optimizationGoals,omitempty" validate:"dive"`
	TimeLimitMs       int64              `json:"timeLimitMs" yaml:"timeLimitMs" validate:"min=0"`
	Seed              int64              `json:"seed" yaml:"seed"`
	Workers           int                `json:"workers" yaml:"workers" validate:"min=0,max=256"`
	Genetic           GeneticParams      `json:"genetic" yaml:"genetic"`
	CSP               CSPParams          `json:"csp" yaml:"csp"`
	Annealing         AnnealingParams    `json:"annealing" yaml:"annealing"`
	Hybrid            HybridParams       `json:"hybrid" yaml:"hybrid"`
}

// TimeLimit returns the wall-clock budget, zero meaning unlimited.
func (s GenerationSettings) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitMs) * time.Millisecond
}

// WithDefaults fills every zero-valued field with the engine default.
func (s GenerationSettings) WithDefaults() GenerationSettings {
	if s.Algorithm == "" {
		s.Algorithm = AlgorithmHybrid
	}
	if len(s.WorkingDays) == 0 {
		s.WorkingDays = []Day{DayMonday, DayTuesday, DayWednesday, DayThursday, DayFriday}
	}
	if s.StartTime == "" {
		s.StartTime = "08:00"
	}
	if s.EndTime == "" {
		s.EndTime = "16:00"
	}
	if s.SlotDuration == 0 {
		s.SlotDuration = 60
	}
	if s.Seed == 0 {
		s.Seed = 1
	}

	g := &s.Genetic
	if g.PopulationSize == 0 {
		g.PopulationSize = 40
	}
	if g.MaxGenerations == 0 {
		g.MaxGenerations = 200
	}
	if g.CrossoverRate == nil {
		g.CrossoverRate = Float(0.8)
	}
	if g.MutationRate == nil {
		g.MutationRate = Float(0.1)
	}
	if g.TournamentSize == 0 {
		g.TournamentSize = min(3, g.PopulationSize)
	}
	if g.EliteSize == nil {
		g.EliteSize = Int(max(0, min(2, g.PopulationSize-1)))
	}
	if g.StagnationWindow == 0 {
		g.StagnationWindow = 30
	}
	if g.CrossoverMode == "" {
		g.CrossoverMode = CrossoverUniform
	}

	c := &s.CSP
	if c.MaxBacktrackSteps == 0 {
		c.MaxBacktrackSteps = 10000
	}
	if c.VariableOrdering == "" {
		c.VariableOrdering = "mrv"
	}
	if c.ValueOrdering == "" {
		c.ValueOrdering = "lcv"
	}
	if c.Propagation == "" {
		c.Propagation = "forward_checking"
	}
	if c.Preprocessing == "" {
		c.Preprocessing = "ac3"
	}

	a := &s.Annealing
	if a.InitialTemperature == 0 {
		a.InitialTemperature = 100
	}
	if a.CoolingRate == 0 {
		a.CoolingRate = 0.995
	}
	if a.MinTemperature == 0 {
		a.MinTemperature = 0.01
	}
	if a.MaxIterations == 0 {
		a.MaxIterations = 20000
	}
	if a.ReportEvery == 0 {
		a.ReportEvery = 250
	}

	h := &s.Hybrid
	if h.HybridRatio == 0 {
		h.HybridRatio = 0.3
	}
	if h.GAGenerations == 0 {
		h.GAGenerations = 100
	}
	return s
}

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidHHMM reports whether raw is a zero-padded 24h HH:MM time.
func ValidHHMM(raw string) bool {
	return hhmmPattern.MatchString(raw)
}

// RegisterValidations installs the custom tags used by timetable models.
func RegisterValidations(v *validator.Validate) {
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return ValidHHMM(fl.Field().String())
	})
}

// NewValidator returns a validator with timetable tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	RegisterValidations(v)
	return v
}

// Validate checks struct tags and cross-field rules. Call after WithDefaults.
func (s GenerationSettings) Validate(v *validator.Validate) error {
	if v == nil {
		v = NewValidator()
	}
	if err := v.Struct(s); err != nil {
		return err
	}
	if s.EndTime <= s.StartTime {
		return fmt.Errorf("endTime %s must be after startTime %s", s.EndTime, s.StartTime)
	}
	for _, b := range s.BreakSlots {
		if b.EndTime <= b.StartTime {
			return fmt.Errorf("break %q ends before it starts", b.Name)
		}
		if b.StartTime < s.StartTime || b.EndTime > s.EndTime {
			return fmt.Errorf("break %q lies outside the %s-%s day window", b.Name, s.StartTime, s.EndTime)
		}
		for _, d := range b.Days {
			if !d.Valid() {
				return fmt.Errorf("break %q references unknown day %q", b.Name, d)
			}
		}
	}
	seen := make(map[Day]bool, len(s.WorkingDays))
	for _, d := range s.WorkingDays {
		if seen[d] {
			return fmt.Errorf("working day %s listed twice", d)
		}
		seen[d] = true
	}
	g := s.Genetic
	if g.Elite() >= g.PopulationSize {
		return fmt.Errorf("eliteSize (%d) must be smaller than populationSize (%d)", g.Elite(), g.PopulationSize)
	}
	if g.TournamentSize > g.PopulationSize {
		return fmt.Errorf("tournamentSize (%d) must not exceed populationSize (%d)", g.TournamentSize, g.PopulationSize)
	}
	a := s.Annealing
	if a.CoolingRate <= 0 || a.CoolingRate >= 1 {
		return fmt.Errorf("coolingRate must be within (0, 1)")
	}
	if a.MinTemperature >= a.InitialTemperature {
		return fmt.Errorf("minTemperature must be below initialTemperature")
	}
	goals := make(map[GoalName]bool, len(s.OptimizationGoals))
	for _, goal := range s.OptimizationGoals {
		if goals[goal.Name] {
			return fmt.Errorf("optimization goal %s listed twice", goal.Name)
		}
		goals[goal.Name] = true
	}
	return nil
}
