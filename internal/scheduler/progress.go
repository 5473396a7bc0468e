package scheduler

import "sync"

// Progress is one fire-and-forget update for an external transport.
type Progress struct {
	Percentage float64 `json:"percentage"`
	Step       string  `json:"step"`
	Generation int     `json:"generation,omitempty"`
	Fitness    float64 `json:"fitness,omitempty"`
}

// ProgressReporter receives updates at generation boundaries and phase transitions.
type ProgressReporter interface {
	OnProgress(Progress)
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(Progress)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(p Progress) {
	if f != nil {
		f(p)
	}
}

// NopReporter discards every update.
var NopReporter ProgressReporter = ProgressFunc(nil)

// safeReporter shields the run from reporter panics and keeps percentages monotonic.
type safeReporter struct {
	mu     sync.Mutex
	next   ProgressReporter
	last   float64
	failed int
}

func newSafeReporter(next ProgressReporter) *safeReporter {
	if next == nil {
		next = NopReporter
	}
	return &safeReporter{next: next}
}

func (r *safeReporter) OnProgress(p Progress) {
	r.mu.Lock()
	if p.Percentage < r.last {
		p.Percentage = r.last
	}
	if p.Percentage > 100 {
		p.Percentage = 100
	}
	r.last = p.Percentage
	r.mu.Unlock()

	defer func() {
		if recover() != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
		}
	}()
	r.next.OnProgress(p)
}

// Failures counts reporter calls that panicked.
func (r *safeReporter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// phaseReporter rescales a phase's 0-100 progress into a slice of the run's range.
type phaseReporter struct {
	next      ProgressReporter
	from, to  float64
	stepLabel string
}

func (r phaseReporter) OnProgress(p Progress) {
	p.Percentage = r.from + (r.to-r.from)*p.Percentage/100
	if r.stepLabel != "" {
		p.Step = r.stepLabel + ": " + p.Step
	}
	r.next.OnProgress(p)
}
