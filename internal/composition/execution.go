package composition

import (
	"sync"
	"time"
)

// NodeResult is the per-node outcome recorded on an Execution.
type NodeResult struct {
	State      NodeState  `json:"state"`
	RowCount   int        `json:"row_count"`
	StartedAt  time.Time  `json:"started_at,omitzero"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// Snapshot is a point-in-time copy of an Execution, safe to hand to callers.
type Snapshot struct {
	RunID         string                `json:"run_id"`
	CompositionID string                `json:"composition_id"`
	Status        RunStatus             `json:"status"`
	Wave          int                   `json:"wave"`
	Nodes         map[string]NodeResult `json:"nodes"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at,omitzero"`
}

// Execution is the run-level aggregate for one composition run. It is
// created when a run starts, mutated only by the orchestrator, and read
// concurrently through Snapshot.
type Execution struct {
	mu sync.RWMutex

	runID         string
	compositionID string
	status        RunStatus
	wave          int
	nodes         map[string]*NodeResult
	startedAt     time.Time
	finishedAt    time.Time
}

// NewExecution creates a RUNNING execution with every node of the graph in
// the PENDING state.
func NewExecution(runID string, g *Graph) *Execution {
	nodes := make(map[string]*NodeResult, len(g.Nodes))
	for id := range g.Nodes {
		nodes[id] = &NodeResult{State: StatePending}
	}
	return &Execution{
		runID:         runID,
		compositionID: g.ID,
		status:        RunRunning,
		nodes:         nodes,
		startedAt:     time.Now(),
	}
}

// RunID returns the run identifier.
func (e *Execution) RunID() string { return e.runID }

// NodeState returns the current state of a node.
func (e *Execution) NodeState(id string) NodeState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if n, ok := e.nodes[id]; ok {
		return n.State
	}
	return ""
}

// MarkRunning transitions a node to RUNNING and stamps its start time.
func (e *Execution) MarkRunning(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[id]; ok {
		n.State = StateRunning
		n.StartedAt = time.Now()
	}
}

// MarkSucceeded records a successful node completion.
func (e *Execution) MarkSucceeded(id string, rowCount int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.nodes[id]; ok {
		n.State = StateSucceeded
		n.RowCount = rowCount
		n.FinishedAt = time.Now()
	}
}

// MarkTerminal records a non-success terminal state with its error detail.
func (e *Execution) MarkTerminal(id string, state NodeState, class ErrorClass, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[id]
	if !ok {
		return
	}
	n.State = state
	n.ErrorClass = class
	if err != nil {
		n.Error = err.Error()
	}
	n.FinishedAt = time.Now()
}

// AdvanceWave increments the wave counter and returns the new value.
func (e *Execution) AdvanceWave() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wave++
	return e.wave
}

// Finish sets the terminal run status.
func (e *Execution) Finish(status RunStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
	e.finishedAt = time.Now()
}

// Status returns the current run status.
func (e *Execution) Status() RunStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// NodeResults returns a value copy of every node result.
func (e *Execution) NodeResults() map[string]NodeResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]NodeResult, len(e.nodes))
	for id, n := range e.nodes {
		out[id] = *n
	}
	return out
}

// Snapshot returns a consistent copy of the whole execution.
func (e *Execution) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	nodes := make(map[string]NodeResult, len(e.nodes))
	for id, n := range e.nodes {
		nodes[id] = *n
	}
	return Snapshot{
		RunID:         e.runID,
		CompositionID: e.compositionID,
		Status:        e.status,
		Wave:          e.wave,
		Nodes:         nodes,
		StartedAt:     e.startedAt,
		FinishedAt:    e.finishedAt,
	}
}
