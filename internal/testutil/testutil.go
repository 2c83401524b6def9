// Package testutil provides shared helpers for building composition graphs
// and quiet logging contexts in tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
)

// Context returns a test context whose logger discards everything, so test
// output stays readable.
func Context(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// GraphBuilder assembles composition graphs for tests with minimal ceremony.
type GraphBuilder struct {
	g *composition.Graph
}

// NewGraph starts a graph with the given ID.
func NewGraph(id string) *GraphBuilder {
	return &GraphBuilder{g: &composition.Graph{
		ID:    id,
		Name:  id,
		Nodes: make(map[string]*composition.Node),
	}}
}

// Node adds a node backed by the given template.
func (b *GraphBuilder) Node(id string, t *composition.Template) *GraphBuilder {
	b.g.Nodes[id] = &composition.Node{ID: id, Template: t}
	return b
}

// NodeWithSettings adds a node with explicit settings.
func (b *GraphBuilder) NodeWithSettings(id string, t *composition.Template, s composition.NodeSettings) *GraphBuilder {
	b.g.Nodes[id] = &composition.Node{ID: id, Template: t, Settings: s}
	return b
}

// Edge connects two nodes with the given mappings.
func (b *GraphBuilder) Edge(from, to string, mappings ...composition.Mapping) *GraphBuilder {
	b.g.Edges = append(b.g.Edges, &composition.Edge{From: from, To: to, Mappings: mappings})
	return b
}

// Build returns the assembled graph.
func (b *GraphBuilder) Build() *composition.Graph {
	return b.g
}

// Template builds a query template from a parameter list.
func Template(name, sql string, params ...composition.Parameter) *composition.Template {
	t := &composition.Template{
		Name:       name,
		SQL:        sql,
		Parameters: make(map[string]composition.Parameter, len(params)),
	}
	for _, p := range params {
		t.Parameters[p.Name] = p
	}
	return t
}

// NoParamTemplate builds a template whose SQL needs no parameters.
func NoParamTemplate(name string) *composition.Template {
	return Template(name, "SELECT 1")
}

// Rows builds a result set from a column list and row values, in order.
func Rows(columns []string, rows ...[]any) *composition.ResultSet {
	rs := &composition.ResultSet{Columns: columns}
	for _, vals := range rows {
		row := make(composition.Row, len(columns))
		for i, col := range columns {
			row[col] = vals[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
