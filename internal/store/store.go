// Package store defines the persistence collaborators the engine consumes:
// composition definitions are loaded read-only, and run progress is written
// out as it happens. The engine never depends on a concrete backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/querygrid/internal/composition"
)

// ErrNotFound is returned when a composition or run does not exist.
var ErrNotFound = fmt.Errorf("not found")

// CompositionStore loads composition definitions.
type CompositionStore interface {
	LoadComposition(ctx context.Context, id string) (*composition.Graph, error)
}

// ProgressStore receives run progress. Implementations must tolerate being
// called from the middle of a wave; a failure to persist never aborts a run.
type ProgressStore interface {
	SaveExecutionProgress(ctx context.Context, runID, nodeID string, result composition.NodeResult) error
	SaveCompositionResult(ctx context.Context, runID string, status composition.RunStatus, nodes map[string]composition.NodeResult) error
}

// Memory is an in-memory CompositionStore and ProgressStore, used by the
// CLI's one-shot mode and by tests.
type Memory struct {
	mu           sync.RWMutex
	compositions map[string]*composition.Graph
	progress     map[string]map[string]composition.NodeResult
	results      map[string]composition.RunStatus
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		compositions: make(map[string]*composition.Graph),
		progress:     make(map[string]map[string]composition.NodeResult),
		results:      make(map[string]composition.RunStatus),
	}
}

// AddComposition registers a composition definition.
func (m *Memory) AddComposition(g *composition.Graph) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compositions[g.ID] = g
}

// CompositionIDs returns the sorted IDs of all registered compositions.
func (m *Memory) CompositionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.compositions))
	for id := range m.compositions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadComposition implements CompositionStore.
func (m *Memory) LoadComposition(ctx context.Context, id string) (*composition.Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.compositions[id]
	if !ok {
		return nil, fmt.Errorf("composition %q: %w", id, ErrNotFound)
	}
	return g, nil
}

// SaveExecutionProgress implements ProgressStore.
func (m *Memory) SaveExecutionProgress(ctx context.Context, runID, nodeID string, result composition.NodeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.progress[runID]
	if !ok {
		run = make(map[string]composition.NodeResult)
		m.progress[runID] = run
	}
	run[nodeID] = result
	return nil
}

// SaveCompositionResult implements ProgressStore.
func (m *Memory) SaveCompositionResult(ctx context.Context, runID string, status composition.RunStatus, nodes map[string]composition.NodeResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[runID] = status
	m.progress[runID] = nodes
	return nil
}

// RunResult returns the final status recorded for a run.
func (m *Memory) RunResult(runID string) (composition.RunStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.results[runID]
	return s, ok
}

// NodeProgress returns the last progress recorded for a node in a run.
func (m *Memory) NodeProgress(runID, nodeID string) (composition.NodeResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.progress[runID][nodeID]
	return r, ok
}
