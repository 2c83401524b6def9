// Package validate statically checks a composition graph for structural
// correctness before any execution begins. Validation is purely local and
// side-effect-free: an invalid graph never reaches the query engine.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/querygrid/internal/composition"
)

// Code classifies a validation failure.
type Code string

const (
	CodeDanglingEdge     Code = "dangling-edge"
	CodeSelfEdge         Code = "self-edge"
	CodeUnknownParameter Code = "unknown-parameter"
	CodeUnknownTransform Code = "unknown-transform"
	CodeShapeMismatch    Code = "shape-mismatch"
	CodeMultiEdgeTarget  Code = "multi-edge-target"
	CodeCycle            Code = "cycle"
)

// Error is one structural defect found in a composition graph.
type Error struct {
	Code   Code
	NodeID string
	Detail string
	// Cycle holds the offending node sequence when Code is CodeCycle.
	Cycle []string
}

func (e *Error) Error() string {
	if e.Code == CodeCycle {
		return fmt.Sprintf("%s: %s", e.Code, strings.Join(e.Cycle, " -> "))
	}
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %q: %s", e.Code, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Errors is the full list of defects found in one validation pass.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("composition graph is invalid: %s", strings.Join(msgs, "; "))
}

// Option adjusts a validation pass.
type Option func(*options)

type options struct {
	transformKnown func(name string) bool
}

// WithTransformChecker makes the validator reject transform mappings whose
// named transformation is not registered.
func WithTransformChecker(known func(name string) bool) Option {
	return func(o *options) { o.transformKnown = known }
}

// Graph validates a composition graph. It returns nil for a valid graph, or
// an Errors value listing every defect found, never a partially-validated
// graph. Checks run in order: edge references, mapping targets, mapping
// shapes, multi-edge combination rules, then cycle detection.
func Graph(g *composition.Graph, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var errs Errors
	errs = append(errs, checkEdgeReferences(g)...)
	errs = append(errs, checkMappings(g, &o)...)
	errs = append(errs, checkMultiEdgeTargets(g)...)
	if cyc := detectCycle(g); cyc != nil {
		errs = append(errs, &Error{Code: CodeCycle, Cycle: cyc})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// checkEdgeReferences verifies every edge references existing, distinct nodes.
func checkEdgeReferences(g *composition.Graph) Errors {
	var errs Errors
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			errs = append(errs, &Error{
				Code:   CodeDanglingEdge,
				NodeID: e.From,
				Detail: fmt.Sprintf("edge %s -> %s references a source node that does not exist", e.From, e.To),
			})
		}
		if _, ok := g.Nodes[e.To]; !ok {
			errs = append(errs, &Error{
				Code:   CodeDanglingEdge,
				NodeID: e.To,
				Detail: fmt.Sprintf("edge %s -> %s references a target node that does not exist", e.From, e.To),
			})
		}
		if e.From == e.To {
			errs = append(errs, &Error{
				Code:   CodeSelfEdge,
				NodeID: e.From,
				Detail: "self-referential edge not allowed",
			})
		}
	}
	return errs
}

// checkMappings verifies every mapping target exists on the target node's
// template schema and that statically-known shapes line up.
func checkMappings(g *composition.Graph, o *options) Errors {
	var errs Errors
	for _, e := range g.Edges {
		target, ok := g.Nodes[e.To]
		if !ok {
			continue // already reported as a dangling edge
		}
		for _, m := range e.Mappings {
			param, ok := target.Template.Parameter(m.TargetParam)
			if !ok {
				errs = append(errs, &Error{
					Code:   CodeUnknownParameter,
					NodeID: e.To,
					Detail: fmt.Sprintf("mapping targets parameter %q, not present on template %q", m.TargetParam, target.Template.Name),
				})
				continue
			}
			errs = append(errs, checkMappingShape(e, m, param, o)...)
		}
	}
	return errs
}

// checkMappingShape applies the statically-decidable part of type
// compatibility. DIRECT shapes depend on the upstream data and are checked
// by the mapper at application time.
func checkMappingShape(e *composition.Edge, m composition.Mapping, param composition.Parameter, o *options) Errors {
	var errs Errors
	switch spec := m.Spec.(type) {
	case composition.Flatten:
		if !param.Type.IsList() {
			errs = append(errs, &Error{
				Code:   CodeShapeMismatch,
				NodeID: e.To,
				Detail: fmt.Sprintf("flatten mapping assigns a list to scalar parameter %q", m.TargetParam),
			})
		}
	case composition.Aggregate:
		switch spec.Op {
		case composition.ReduceSum, composition.ReduceCount:
			if param.Type != composition.TypeNumber {
				errs = append(errs, &Error{
					Code:   CodeShapeMismatch,
					NodeID: e.To,
					Detail: fmt.Sprintf("aggregate %s produces a number, but parameter %q is %s", spec.Op, m.TargetParam, param.Type),
				})
			}
		case composition.ReduceConcat:
			if param.Type != composition.TypeString {
				errs = append(errs, &Error{
					Code:   CodeShapeMismatch,
					NodeID: e.To,
					Detail: fmt.Sprintf("aggregate concat produces a string, but parameter %q is %s", m.TargetParam, param.Type),
				})
			}
		case composition.ReduceDistinctUnion:
			if !param.Type.IsList() {
				errs = append(errs, &Error{
					Code:   CodeShapeMismatch,
					NodeID: e.To,
					Detail: fmt.Sprintf("aggregate distinct_union produces a list, but parameter %q is %s", m.TargetParam, param.Type),
				})
			}
		}
	case composition.Transform:
		if o.transformKnown != nil && !o.transformKnown(spec.Name) {
			errs = append(errs, &Error{
				Code:   CodeUnknownTransform,
				NodeID: e.To,
				Detail: fmt.Sprintf("mapping for parameter %q names unregistered transform %q", m.TargetParam, spec.Name),
			})
		}
	}
	return errs
}

// checkMultiEdgeTargets enforces that when multiple incoming edges map to
// the same target parameter, every one of them is an AGGREGATE mapping.
func checkMultiEdgeTargets(g *composition.Graph) Errors {
	type targetKey struct {
		node  string
		param string
	}
	count := make(map[targetKey]int)
	aggregates := make(map[targetKey]int)
	for _, e := range g.Edges {
		for _, m := range e.Mappings {
			k := targetKey{node: e.To, param: m.TargetParam}
			count[k]++
			if m.Spec.Kind() == composition.KindAggregate {
				aggregates[k]++
			}
		}
	}

	keys := make([]targetKey, 0, len(count))
	for k := range count {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].node != keys[j].node {
			return keys[i].node < keys[j].node
		}
		return keys[i].param < keys[j].param
	})

	var errs Errors
	for _, k := range keys {
		if count[k] > 1 && aggregates[k] != count[k] {
			errs = append(errs, &Error{
				Code:   CodeMultiEdgeTarget,
				NodeID: k.node,
				Detail: fmt.Sprintf("%d edges map to parameter %q; only aggregate mappings may combine multiple edges", count[k], k.param),
			})
		}
	}
	return errs
}

// detectCycle runs depth-first search over the dependency arcs and returns
// the offending node sequence if a cycle exists, or nil for an acyclic graph.
func detectCycle(g *composition.Graph) []string {
	// Classic three-color DFS: permanent nodes are fully explored, temporary
	// nodes are on the current recursion stack.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var cycle []string
	var visit func(id string) bool
	visit = func(id string) bool {
		if permanent[id] {
			return false
		}
		if temporary[id] {
			// Found a back edge; slice the stack from the repeated node.
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			cycle = append(append([]string{}, stack[start:]...), id)
			return true
		}
		temporary[id] = true
		stack = append(stack, id)
		for _, succ := range g.Downstream(id) {
			if visit(succ) {
				return true
			}
		}
		stack = stack[:len(stack)-1]
		delete(temporary, id)
		permanent[id] = true
		return false
	}

	for _, id := range g.NodeIDs() {
		if !permanent[id] {
			if visit(id) {
				return cycle
			}
		}
	}
	return nil
}
