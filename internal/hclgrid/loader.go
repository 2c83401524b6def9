// Package hclgrid loads composition definitions from HCL files and
// translates them into validated composition graphs.
package hclgrid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/ctxlog"
	"github.com/vk/querygrid/internal/mapping"
	"github.com/vk/querygrid/internal/validate"
)

// Loader parses HCL definition files into composition graphs. Every loaded
// graph is validated before it is returned, with transform names checked
// against the registry.
type Loader struct {
	transforms *mapping.Registry
}

// NewLoader creates an HCL composition loader.
func NewLoader(transforms *mapping.Registry) *Loader {
	return &Loader{transforms: transforms}
}

// Load parses every .hcl file under the given paths. A path may be a single
// file or a directory, which is walked recursively. Paths that do not exist
// are skipped.
func (l *Loader) Load(ctx context.Context, paths ...string) ([]*composition.Graph, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := findHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL definition files.", "count", len(files))

	parser := hclparse.NewParser()
	var graphs []*composition.Graph
	seen := make(map[string]string)

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse %s: %w", file, diags)
		}

		var root fileRoot
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &root); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode %s: %w", file, diags)
		}

		for _, block := range root.Compositions {
			if prev, dup := seen[block.ID]; dup {
				return nil, fmt.Errorf("composition %q in %s already defined in %s", block.ID, file, prev)
			}
			seen[block.ID] = file

			g, err := l.translateComposition(block)
			if err != nil {
				return nil, fmt.Errorf("%s: composition %q: %w", file, block.ID, err)
			}
			if err := validate.Graph(g, validate.WithTransformChecker(l.transforms.Has)); err != nil {
				return nil, fmt.Errorf("%s: composition %q: %w", file, block.ID, err)
			}
			graphs = append(graphs, g)
			logger.Debug("Loaded composition.", "composition_id", g.ID, "nodes", len(g.Nodes), "edges", len(g.Edges))
		}
	}
	return graphs, nil
}

func (l *Loader) translateComposition(block *compositionBlock) (*composition.Graph, error) {
	templates := make(map[string]*composition.Template, len(block.Templates))
	for _, tb := range block.Templates {
		if _, dup := templates[tb.Name]; dup {
			return nil, fmt.Errorf("duplicate template %q", tb.Name)
		}
		t, err := translateTemplate(tb)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", tb.Name, err)
		}
		templates[tb.Name] = t
	}

	g := &composition.Graph{
		ID:    block.ID,
		Name:  block.Name,
		Nodes: make(map[string]*composition.Node, len(block.Nodes)),
	}
	if g.Name == "" {
		g.Name = block.ID
	}

	for _, nb := range block.Nodes {
		if _, dup := g.Nodes[nb.ID]; dup {
			return nil, fmt.Errorf("duplicate node %q", nb.ID)
		}
		t, ok := templates[nb.Template]
		if !ok {
			return nil, fmt.Errorf("node %q references unknown template %q", nb.ID, nb.Template)
		}
		settings, err := translateSettings(nb.Settings)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nb.ID, err)
		}
		g.Nodes[nb.ID] = &composition.Node{ID: nb.ID, Template: t, Settings: settings}
	}

	for _, cb := range block.Connections {
		edge := &composition.Edge{From: cb.From, To: cb.To}
		for _, mb := range cb.Maps {
			m, err := translateMapping(mb)
			if err != nil {
				return nil, fmt.Errorf("connection %s -> %s: map %q: %w", cb.From, cb.To, mb.Target, err)
			}
			edge.Mappings = append(edge.Mappings, m)
		}
		g.Edges = append(g.Edges, edge)
	}
	return g, nil
}

func translateTemplate(tb *templateBlock) (*composition.Template, error) {
	t := &composition.Template{
		Name:       tb.Name,
		SQL:        tb.SQL,
		Parameters: make(map[string]composition.Parameter, len(tb.Parameters)),
	}
	for _, pb := range tb.Parameters {
		if _, dup := t.Parameters[pb.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", pb.Name)
		}
		p, err := translateParameter(pb)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", pb.Name, err)
		}
		t.Parameters[pb.Name] = p
	}
	return t, nil
}

func translateParameter(pb *parameterBlock) (composition.Parameter, error) {
	ptype, err := composition.ParseParamType(pb.Type)
	if err != nil {
		return composition.Parameter{}, err
	}
	p := composition.Parameter{Name: pb.Name, Type: ptype, Required: pb.Required}

	if isExprDefined(pb.Default) {
		val, diags := pb.Default.Value(nil)
		if diags.HasErrors() {
			return composition.Parameter{}, fmt.Errorf("default value: %w", diags)
		}
		native, err := ctyToNative(val)
		if err != nil {
			return composition.Parameter{}, fmt.Errorf("default value: %w", err)
		}
		p.Default = native
	}
	return p, nil
}

func translateSettings(sb *settingsBlock) (composition.NodeSettings, error) {
	if sb == nil {
		return composition.NodeSettings{}, nil
	}
	settings := composition.NodeSettings{OutputLocation: sb.OutputLocation}
	if sb.Deadline != "" {
		d, err := time.ParseDuration(sb.Deadline)
		if err != nil {
			return composition.NodeSettings{}, fmt.Errorf("invalid deadline %q: %w", sb.Deadline, err)
		}
		if d <= 0 {
			return composition.NodeSettings{}, fmt.Errorf("deadline %q must be positive", sb.Deadline)
		}
		settings.Deadline = d
	}
	return settings, nil
}

// translateMapping rejects unknown kinds and reducers here, at load time,
// so the mapper only ever sees well-formed specs.
func translateMapping(mb *mapBlock) (composition.Mapping, error) {
	if mb.SourceField == "" {
		return composition.Mapping{}, fmt.Errorf("source_field is required")
	}
	var spec composition.MappingSpec
	switch composition.MappingKind(mb.Kind) {
	case composition.KindDirect:
		spec = composition.Direct{SourceField: mb.SourceField}
	case composition.KindTransform:
		if mb.Transform == "" {
			return composition.Mapping{}, fmt.Errorf("transform kind requires a transform name")
		}
		spec = composition.Transform{SourceField: mb.SourceField, Name: mb.Transform, Args: mb.Args}
	case composition.KindFlatten:
		spec = composition.Flatten{SourceField: mb.SourceField, Distinct: mb.Distinct}
	case composition.KindAggregate:
		op, err := composition.ParseReducerOp(mb.Reducer)
		if err != nil {
			return composition.Mapping{}, err
		}
		spec = composition.Aggregate{SourceField: mb.SourceField, Op: op}
	default:
		return composition.Mapping{}, fmt.Errorf("unknown mapping kind %q", mb.Kind)
	}
	return composition.Mapping{TargetParam: mb.Target, Spec: spec}, nil
}

// isExprDefined reports whether an optional attribute was actually present
// in the source file. The decoder populates omitted optional expressions
// with zero-width placeholders, so a nil check alone is not enough.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	rng := expr.Range()
	return rng.End.Byte > rng.Start.Byte
}

// findHCLFiles walks the given paths and returns every .hcl file found, in
// a stable order with duplicates removed.
func findHCLFiles(paths []string) ([]string, error) {
	var files []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, ok := seen[p]; !ok {
			files = append(files, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if !info.IsDir() {
			if filepath.Ext(path) == ".hcl" {
				add(path)
			}
			continue
		}
		err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && filepath.Ext(p) == ".hcl" {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}
