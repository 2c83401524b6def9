package composition

import (
	"sort"
	"time"
)

// NodeSettings is the static, non-parameter configuration of a node.
type NodeSettings struct {
	// OutputLocation is passed through to the query engine when the node's
	// query is created.
	OutputLocation string
	// Deadline bounds one execution of this node against the query engine.
	// Zero means the client default applies.
	Deadline time.Duration
}

// Node is one query-template instance within a composition.
type Node struct {
	ID       string
	Template *Template
	Settings NodeSettings
}

// Graph is a composition definition: nodes connected by parameter-mapping
// edges. It is immutable during a run; all run-time state lives on Execution.
type Graph struct {
	ID    string
	Name  string
	Nodes map[string]*Node
	Edges []*Edge
}

// Node returns the node with the given ID, if present.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// Incoming returns all edges whose target is the given node, in definition order.
func (g *Graph) Incoming(nodeID string) []*Edge {
	var edges []*Edge
	for _, e := range g.Edges {
		if e.To == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Upstream returns the sorted set of node IDs the given node depends on.
func (g *Graph) Upstream(nodeID string) []string {
	seen := make(map[string]bool)
	for _, e := range g.Edges {
		if e.To == nodeID {
			seen[e.From] = true
		}
	}
	return sortedKeys(seen)
}

// Downstream returns the sorted set of node IDs that depend on the given node.
func (g *Graph) Downstream(nodeID string) []string {
	seen := make(map[string]bool)
	for _, e := range g.Edges {
		if e.From == nodeID {
			seen[e.To] = true
		}
	}
	return sortedKeys(seen)
}

// Sinks returns the sorted IDs of nodes with no outgoing edges. Sink results
// are what a composition run ultimately produces.
func (g *Graph) Sinks() []string {
	hasOut := make(map[string]bool)
	for _, e := range g.Edges {
		hasOut[e.From] = true
	}
	var sinks []string
	for id := range g.Nodes {
		if !hasOut[id] {
			sinks = append(sinks, id)
		}
	}
	sort.Strings(sinks)
	return sinks
}

// NodeIDs returns all node IDs in sorted order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
