package service

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/sma-timetable-engine/internal/models"
	"github.com/noah-isme/sma-timetable-engine/internal/scheduler"
)

// RunHandle tracks one asynchronous generation run.
type RunHandle struct {
	ID          string
	TimetableID string
	Algorithm   models.Algorithm
	CreatedAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	status     models.RunStatus
	progress   scheduler.Progress
	result     *models.GenerationResult
	startedAt  time.Time
	finishedAt time.Time
}

func newRunHandle(parent context.Context, id, timetableID string, algorithm models.Algorithm, now time.Time) *RunHandle {
	ctx, cancel := context.WithCancel(parent)
	return &RunHandle{
		ID:          id,
		TimetableID: timetableID,
		Algorithm:   algorithm,
		CreatedAt:   now,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      models.RunStatusQueued,
	}
}

// Status returns the current lifecycle state.
func (h *RunHandle) Status() models.RunStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Progress returns the latest progress update.
func (h *RunHandle) Progress() scheduler.Progress {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.progress
}

// OnProgress records an engine update. It never blocks the search.
func (h *RunHandle) OnProgress(p scheduler.Progress) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

// Cancel asks the engine to stop. The run still ends with a terminal result.
func (h *RunHandle) Cancel() {
	h.cancel()
}

// Done is closed once the run reached a terminal status.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal result, or nil while the run is active.
func (h *RunHandle) Result() *models.GenerationResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result
}

// StartedAt is zero while the run waits in the queue.
func (h *RunHandle) StartedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.startedAt
}

// FinishedAt is zero until the run is terminal.
func (h *RunHandle) FinishedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.finishedAt
}

func (h *RunHandle) markRunning(now time.Time) {
	h.mu.Lock()
	h.status = models.RunStatusRunning
	h.startedAt = now
	h.mu.Unlock()
}

func (h *RunHandle) finish(status models.RunStatus, result *models.GenerationResult, now time.Time) {
	h.mu.Lock()
	h.status = status
	h.result = result
	h.finishedAt = now
	h.mu.Unlock()
	h.cancel()
	close(h.done)
}

// resolveConflict marks a conflict on a copy of the in-memory result and swaps it in.
// Results handed out earlier are never written to.
func (h *RunHandle) resolveConflict(conflictID, notes string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return false
	}
	updated := *h.result
	updated.Conflicts = append([]models.Conflict(nil), h.result.Conflicts...)
	if !markResolved(&updated, conflictID, notes) {
		return false
	}
	h.result = &updated
	return true
}

func markResolved(result *models.GenerationResult, conflictID, notes string) bool {
	found := false
	for i := range result.Conflicts {
		if result.Conflicts[i].ID == conflictID {
			result.Conflicts[i].Resolved = true
			result.Conflicts[i].ResolutionNotes = notes
			found = true
		}
	}
	return found
}

// RunStatusFor maps an engine result onto the run lifecycle.
func RunStatusFor(result *models.GenerationResult) models.RunStatus {
	if result.Metrics.Cancelled {
		return models.RunStatusCancelled
	}
	for _, c := range result.Conflicts {
		if c.Severity == models.SeverityCritical && (c.Type == models.ConflictSystemError || c.Type == models.ConflictDataError) {
			return models.RunStatusFailed
		}
	}
	return models.RunStatusCompleted
}
