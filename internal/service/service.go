// Package service owns the lifecycle of composition runs: it loads and
// validates definitions, assigns run IDs, launches the orchestrator in the
// background, and answers status and cancellation requests. Both the CLI's
// one-shot mode and the HTTP API sit on top of this package.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/mapping"
	"github.com/vk/querygrid/internal/orchestrator"
	"github.com/vk/querygrid/internal/store"
	"github.com/vk/querygrid/internal/validate"
)

// ErrRunNotFound is returned for status or cancel requests on unknown runs.
var ErrRunNotFound = fmt.Errorf("run not found")

// RunRequest describes one composition run to start.
type RunRequest struct {
	CompositionID string
	// Window defaults to the 24 hours ending now when left zero.
	Window composition.TimeWindow
	// Parameters override node parameter values, keyed "node.param".
	Parameters map[string]any
	BestEffort bool
	// Workers caps in-wave dispatch concurrency; zero means the default.
	Workers int
}

// Config carries the service-wide settings shared by every run.
type Config struct {
	SQLLimits mapping.SQLLimits
}

type run struct {
	exec   *composition.Execution
	cancel context.CancelFunc
	done   chan struct{}
}

// Service starts and tracks composition runs.
type Service struct {
	compositions store.CompositionStore
	orch         *orchestrator.Orchestrator
	transforms   *mapping.Registry
	cfg          Config

	mu   sync.RWMutex
	runs map[string]*run
}

// New wires a run service. The registry is used to validate transform names
// before a run is accepted.
func New(compositions store.CompositionStore, orch *orchestrator.Orchestrator, transforms *mapping.Registry, cfg Config) *Service {
	return &Service{
		compositions: compositions,
		orch:         orch,
		transforms:   transforms,
		cfg:          cfg,
		runs:         make(map[string]*run),
	}
}

// StartCompositionRun validates the composition and launches it in the
// background, returning the new run's ID. Validation failures are returned
// synchronously; once a run ID is handed out the run always reaches a
// terminal status.
func (s *Service) StartCompositionRun(ctx context.Context, req RunRequest) (string, error) {
	g, err := s.compositions.LoadComposition(ctx, req.CompositionID)
	if err != nil {
		return "", fmt.Errorf("loading composition %q: %w", req.CompositionID, err)
	}
	if err := validate.Graph(g, validate.WithTransformChecker(s.transforms.Has)); err != nil {
		return "", fmt.Errorf("composition %q is invalid: %w", req.CompositionID, err)
	}

	window := req.Window
	if window.Start.IsZero() && window.End.IsZero() {
		window.End = time.Now().UTC()
		window.Start = window.End.Add(-24 * time.Hour)
	}

	runID := uuid.NewString()
	exec := composition.NewExecution(runID, g)

	// The run must outlive the request that started it; only its own cancel
	// function (or process shutdown) stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = ctxlog.WithLogger(runCtx, ctxlog.FromContext(ctx))

	r := &run{exec: exec, cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[runID] = r
	s.mu.Unlock()

	go func() {
		defer close(r.done)
		defer cancel()
		s.orch.Run(runCtx, g, exec, orchestrator.Options{
			Window:     window,
			Parameters: req.Parameters,
			BestEffort: req.BestEffort,
			Workers:    req.Workers,
			SQLLimits:  s.cfg.SQLLimits,
		})
	}()

	return runID, nil
}

// GetRunStatus returns a point-in-time snapshot of the run.
func (s *Service) GetRunStatus(runID string) (composition.Snapshot, error) {
	r, err := s.lookup(runID)
	if err != nil {
		return composition.Snapshot{}, err
	}
	return r.exec.Snapshot(), nil
}

// CancelRun requests cancellation of a running composition. Cancelling a
// finished run is a no-op.
func (s *Service) CancelRun(runID string) error {
	r, err := s.lookup(runID)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// Wait blocks until the run reaches a terminal status or the context ends,
// then returns the final snapshot.
func (s *Service) Wait(ctx context.Context, runID string) (composition.Snapshot, error) {
	r, err := s.lookup(runID)
	if err != nil {
		return composition.Snapshot{}, err
	}
	select {
	case <-r.done:
		return r.exec.Snapshot(), nil
	case <-ctx.Done():
		return r.exec.Snapshot(), ctx.Err()
	}
}

func (s *Service) lookup(runID string) (*run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return r, nil
}
