package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunRecord identifies one execution of a workflow and tracks its per-step
// states. The coordinating loop writes; observers read snapshots.
type RunRecord struct {
	ID       uuid.UUID
	Workflow string

	mu            sync.RWMutex
	startedAt     time.Time
	finishedAt    time.Time
	outcome       RunOutcome
	states        map[string]StepState
	notifications []Notification
}

func newRunRecord(g *ExecutionGraph) *RunRecord {
	r := &RunRecord{
		ID:        uuid.New(),
		Workflow:  g.Workflow,
		startedAt: time.Now(),
		outcome:   RunPending,
		states:    make(map[string]StepState, len(g.Steps)),
	}
	for _, n := range g.Steps {
		r.states[n.Name] = Pending
	}
	return r
}

func (r *RunRecord) setState(step string, state StepState) {
	r.mu.Lock()
	r.states[step] = state
	r.mu.Unlock()
}

func (r *RunRecord) addNotification(n Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()
}

func (r *RunRecord) finalize(outcome RunOutcome) {
	r.mu.Lock()
	r.outcome = outcome
	r.finishedAt = time.Now()
	r.mu.Unlock()
}

// Outcome returns the run's terminal classification, RunPending while the
// run is still in flight.
func (r *RunRecord) Outcome() RunOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcome
}

// StartedAt returns when the run began.
func (r *RunRecord) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

// FinishedAt returns when the run reached a terminal state, zero while in
// flight.
func (r *RunRecord) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// StepStates returns a copy of the per-step state map.
func (r *RunRecord) StepStates() map[string]StepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]StepState, len(r.states))
	for k, v := range r.states {
		out[k] = v
	}
	return out
}

// Notifications returns a copy of the notifications emitted so far.
func (r *RunRecord) Notifications() []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Notification(nil), r.notifications...)
}

// Registry tracks runs by identifier for the engine's host process. It
// replaces ambient global run state with an owned, accessor-based store.
type Registry struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*RunRecord
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[uuid.UUID]*RunRecord)}
}

func (r *Registry) add(run *RunRecord) {
	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()
}

// Get returns the run with the given id.
func (r *Registry) Get(id uuid.UUID) (*RunRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns all known runs ordered by start time.
func (r *Registry) List() []*RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RunRecord, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt().Before(out[j].StartedAt()) })
	return out
}
