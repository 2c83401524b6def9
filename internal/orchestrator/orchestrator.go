// Package orchestrator drives one composition run: it walks the scheduler's
// waves, assembles each node's parameters from its incoming edges, dispatches
// nodes to the execution client through a bounded concurrency gate, and
// tracks per-node and run-level state until no node can make progress.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/mapping"
	"github.com/vk/querygrid/internal/notify"
	"github.com/vk/querygrid/internal/queryengine"
	"github.com/vk/querygrid/internal/schedule"
	"github.com/vk/querygrid/internal/store"
)

// Engine executes one node's rendered query against the external engine.
// Satisfied by *queryengine.Client.
type Engine interface {
	Execute(ctx context.Context, req queryengine.Request) (*composition.ResultSet, error)
}

// Options are per-run settings.
type Options struct {
	// Window is the execution time window handed to the engine.
	Window composition.TimeWindow
	// Parameters override node parameter values, keyed "node.param".
	Parameters map[string]any
	// BestEffort dispatches a node once its upstreams are merely terminal
	// rather than SUCCEEDED; mappings from a failed upstream then fail only
	// the parameters that require them.
	BestEffort bool
	// Workers caps concurrently dispatched nodes within a wave. Default 4.
	Workers int
	// SQLLimits bounds list-parameter rendering.
	SQLLimits mapping.SQLLimits
}

// Orchestrator executes validated composition graphs. One Orchestrator may
// serve many runs concurrently; all per-run state lives on the Execution.
type Orchestrator struct {
	engine   Engine
	mapper   *mapping.Mapper
	progress store.ProgressStore
	sink     notify.Sink
}

// New wires an orchestrator. progress and sink may not be nil; use
// store.NewMemory and notify.LogSink{} for the minimal setup.
func New(engine Engine, mapper *mapping.Mapper, progress store.ProgressStore, sink notify.Sink) *Orchestrator {
	return &Orchestrator{engine: engine, mapper: mapper, progress: progress, sink: sink}
}

// dispatchable is a node with its parameters assembled and SQL rendered,
// ready for the engine.
type dispatchable struct {
	node *composition.Node
	req  queryengine.Request
}

// Run executes the graph to completion and returns the final run status.
// Node-local errors never escape the wave loop; they become terminal node
// states. The run always finishes with a derived status.
func (o *Orchestrator) Run(ctx context.Context, g *composition.Graph, exec *composition.Execution, opts Options) composition.RunStatus {
	logger := ctxlog.FromContext(ctx).With("run_id", exec.RunID(), "composition_id", g.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	if opts.Workers <= 0 {
		opts.Workers = 4
	}

	waves, err := schedule.Waves(g)
	if err != nil {
		// Unreachable for validated graphs; fail the whole run rather than guess.
		logger.Error("Scheduling failed.", "error", err)
		for _, id := range g.NodeIDs() {
			exec.MarkTerminal(id, composition.StateFailed, composition.ErrClassPermanent, err)
		}
		exec.Finish(composition.RunFailed)
		return composition.RunFailed
	}

	results := make(map[string]*composition.ResultSet, len(g.Nodes))
	for _, waveNodes := range waves {
		wave := exec.AdvanceWave()
		logger.Debug("Starting wave.", "wave", wave, "nodes", waveNodes)

		dispatches := o.prepareWave(ctx, g, exec, results, waveNodes, opts)
		o.runWave(ctx, exec, dispatches, results, opts.Workers)
	}

	status := o.finalStatus(ctx, g, exec)
	exec.Finish(status)
	if err := o.progress.SaveCompositionResult(ctx, exec.RunID(), status, exec.NodeResults()); err != nil {
		logger.Warn("Failed to persist composition result.", "error", err)
	}
	o.publishRun(ctx, exec)
	logger.Info("Composition run finished.", "status", status)
	return status
}

// prepareWave settles every node of the wave into BLOCKED, CANCELLED,
// FAILED (mapping), or a ready-to-dispatch request.
func (o *Orchestrator) prepareWave(ctx context.Context, g *composition.Graph, exec *composition.Execution, results map[string]*composition.ResultSet, waveNodes []string, opts Options) []dispatchable {
	logger := ctxlog.FromContext(ctx)
	var dispatches []dispatchable

	for _, id := range waveNodes {
		node := g.Nodes[id]

		if ctx.Err() != nil {
			exec.MarkTerminal(id, composition.StateCancelled, composition.ErrClassCancelled, ctx.Err())
			o.publishNode(ctx, exec, id)
			continue
		}

		if blockedBy := o.blockingUpstream(g, exec, id, opts.BestEffort); blockedBy != "" {
			exec.MarkTerminal(id, composition.StateBlocked, composition.ErrClassUpstream,
				fmt.Errorf("upstream node %q did not succeed", blockedBy))
			o.publishNode(ctx, exec, id)
			continue
		}

		sql, err := o.assembleSQL(node, g, exec, results, opts)
		if err != nil {
			logger.Warn("Parameter mapping failed.", "node_id", id, "error", err)
			exec.MarkTerminal(id, composition.StateFailed, composition.ErrClassMapping, err)
			o.publishNode(ctx, exec, id)
			continue
		}

		dispatches = append(dispatches, dispatchable{
			node: node,
			req: queryengine.Request{
				SQL:            sql,
				OutputLocation: node.Settings.OutputLocation,
				Window:         opts.Window,
				Deadline:       node.Settings.Deadline,
			},
		})
	}
	return dispatches
}

// blockingUpstream returns the ID of an upstream node that prevents
// dispatch, or "" when the node may run. A BLOCKED upstream propagates in
// every mode; a failed upstream blocks only strict runs.
func (o *Orchestrator) blockingUpstream(g *composition.Graph, exec *composition.Execution, id string, bestEffort bool) string {
	for _, up := range g.Upstream(id) {
		st := exec.NodeState(up)
		if st == composition.StateSucceeded {
			continue
		}
		if bestEffort && st.Terminal() && st != composition.StateBlocked && st != composition.StateCancelled {
			continue
		}
		return up
	}
	return ""
}

// runWave dispatches the prepared nodes concurrently, bounded by the worker
// ceiling, and commits their result sets once every node is terminal.
func (o *Orchestrator) runWave(ctx context.Context, exec *composition.Execution, dispatches []dispatchable, results map[string]*composition.ResultSet, workers int) {
	waveResults := make([]*composition.ResultSet, len(dispatches))
	slots := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, d := range dispatches {
		wg.Add(1)
		go func(i int, d dispatchable) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()

			id := d.node.ID
			exec.MarkRunning(id)
			o.publishNode(ctx, exec, id)

			rs, err := o.engine.Execute(ctx, d.req)
			if err != nil {
				state, class := classify(ctx, err)
				exec.MarkTerminal(id, state, class, err)
			} else {
				exec.MarkSucceeded(id, len(rs.Rows))
				waveResults[i] = rs
			}
			o.publishNode(ctx, exec, id)
		}(i, d)
	}
	wg.Wait()

	// Results become visible to later waves only after the wave barrier, so
	// a downstream node never observes a non-terminal upstream.
	for i, d := range dispatches {
		if waveResults[i] != nil {
			results[d.node.ID] = waveResults[i]
		}
	}
}

// assembleSQL builds the node's full parameter set (template defaults, then
// edge mappings, then run-parameter overrides) and renders the template SQL.
func (o *Orchestrator) assembleSQL(node *composition.Node, g *composition.Graph, exec *composition.Execution, results map[string]*composition.ResultSet, opts Options) (string, error) {
	values := make(map[string]any, len(node.Template.Parameters))
	for name, p := range node.Template.Parameters {
		if p.Default != nil {
			values[name] = p.Default
		}
	}

	// Group incoming mappings by target parameter, preserving edge order.
	inputs := make(map[string][]mapping.Input)
	for _, e := range g.Incoming(node.ID) {
		for _, m := range e.Mappings {
			inputs[m.TargetParam] = append(inputs[m.TargetParam], mapping.Input{
				SourceNode:      e.From,
				Spec:            m.Spec,
				Result:          results[e.From],
				SourceSucceeded: exec.NodeState(e.From) == composition.StateSucceeded,
			})
		}
	}
	for name, ins := range inputs {
		param, ok := node.Template.Parameter(name)
		if !ok {
			return "", &mapping.Error{Param: name, Reason: "mapping targets a parameter not on the template schema"}
		}
		v, err := o.mapper.Value(param, ins)
		if err != nil {
			if mapping.IsNoValue(err) {
				continue
			}
			return "", err
		}
		values[name] = v
	}

	for name, v := range opts.Parameters {
		nodeID, param, ok := splitRunParameter(name)
		if ok && nodeID == node.ID {
			values[param] = v
		}
	}

	for name, p := range node.Template.Parameters {
		if p.Required {
			if _, ok := values[name]; !ok {
				return "", &mapping.Error{Param: name, Reason: "required parameter has no value"}
			}
		}
	}

	return mapping.RenderSQL(node.Template.SQL, values, opts.SQLLimits)
}

// splitRunParameter parses a "node.param" run-parameter key.
func splitRunParameter(key string) (nodeID, param string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// classify maps a node execution error to its terminal state and error
// class. Typed engine errors take priority: a TransientError can wrap an
// HTTP request timeout that satisfies errors.Is(err, context.DeadlineExceeded),
// and exhausted retries must surface as a transient failure, not a
// cancellation. The raw context sentinels mean cancellation only when the
// run context itself is done.
func classify(ctx context.Context, err error) (composition.NodeState, composition.ErrorClass) {
	var de *queryengine.DeadlineError
	var ae *queryengine.AuthError
	var me *mapping.Error
	switch {
	case errors.As(err, &de):
		return composition.StateTimedOut, composition.ErrClassDeadline
	case errors.As(err, &ae):
		return composition.StateFailed, composition.ErrClassAuth
	case errors.As(err, &me):
		return composition.StateFailed, composition.ErrClassMapping
	case queryengine.IsTransient(err):
		return composition.StateFailed, composition.ErrClassTransient
	case ctx.Err() != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return composition.StateCancelled, composition.ErrClassCancelled
	}
	return composition.StateFailed, composition.ErrClassPermanent
}

// finalStatus derives the composition-level outcome: SUCCEEDED when every
// node succeeded; FAILED when no sink produced a result; PARTIAL when at
// least one sink did while some node did not; CANCELLED when the run was
// cancelled before it could finish.
func (o *Orchestrator) finalStatus(ctx context.Context, g *composition.Graph, exec *composition.Execution) composition.RunStatus {
	nodes := exec.NodeResults()
	allSucceeded := true
	for _, r := range nodes {
		if r.State != composition.StateSucceeded {
			allSucceeded = false
			break
		}
	}
	if allSucceeded {
		return composition.RunSucceeded
	}
	if ctx.Err() != nil {
		return composition.RunCancelled
	}
	for _, sinkID := range g.Sinks() {
		if nodes[sinkID].State == composition.StateSucceeded {
			return composition.RunPartial
		}
	}
	return composition.RunFailed
}

// publishNode emits a node state transition to the sinks and persistence.
// Both are fire-and-continue.
func (o *Orchestrator) publishNode(ctx context.Context, exec *composition.Execution, nodeID string) {
	logger := ctxlog.FromContext(ctx)
	snap := exec.Snapshot()
	result := snap.Nodes[nodeID]
	if err := o.progress.SaveExecutionProgress(ctx, snap.RunID, nodeID, result); err != nil {
		logger.Warn("Failed to persist node progress.", "node_id", nodeID, "error", err)
	}
	ev := notify.Event{
		RunID:         snap.RunID,
		CompositionID: snap.CompositionID,
		Wave:          snap.Wave,
		NodeID:        nodeID,
		NodeState:     result.State,
		Detail:        result.Error,
		Time:          result.FinishedAt,
	}
	if ev.Time.IsZero() {
		ev.Time = result.StartedAt
	}
	if err := o.sink.Publish(ctx, ev); err != nil {
		logger.Warn("Progress sink publish failed.", "node_id", nodeID, "error", err)
	}
}

// publishRun emits the run-level outcome.
func (o *Orchestrator) publishRun(ctx context.Context, exec *composition.Execution) {
	logger := ctxlog.FromContext(ctx)
	snap := exec.Snapshot()
	ev := notify.Event{
		RunID:         snap.RunID,
		CompositionID: snap.CompositionID,
		Wave:          snap.Wave,
		RunStatus:     snap.Status,
		Time:          snap.FinishedAt,
	}
	if err := o.sink.Publish(ctx, ev); err != nil {
		logger.Warn("Progress sink publish failed.", "error", err)
	}
}
