package hclgrid

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes the top-level blocks of one definition file. Unknown
// blocks land in Remain and are ignored, so definition files can carry
// sibling configuration for other tools.
type fileRoot struct {
	Compositions []*compositionBlock `hcl:"composition,block"`
	Remain       hcl.Body            `hcl:",remain"`
}

type compositionBlock struct {
	ID          string             `hcl:"id,label"`
	Name        string             `hcl:"name,optional"`
	Templates   []*templateBlock   `hcl:"template,block"`
	Nodes       []*nodeBlock       `hcl:"node,block"`
	Connections []*connectionBlock `hcl:"connection,block"`
}

type templateBlock struct {
	Name       string            `hcl:"name,label"`
	SQL        string            `hcl:"sql"`
	Parameters []*parameterBlock `hcl:"parameter,block"`
}

type parameterBlock struct {
	Name     string         `hcl:"name,label"`
	Type     string         `hcl:"type"`
	Required bool           `hcl:"required,optional"`
	Default  hcl.Expression `hcl:"default,optional"`
}

type nodeBlock struct {
	ID       string         `hcl:"id,label"`
	Template string         `hcl:"template"`
	Settings *settingsBlock `hcl:"settings,block"`
}

type settingsBlock struct {
	OutputLocation string `hcl:"output_location,optional"`
	// Deadline is a Go duration string, e.g. "15m".
	Deadline string `hcl:"deadline,optional"`
}

type connectionBlock struct {
	From string      `hcl:"from"`
	To   string      `hcl:"to"`
	Maps []*mapBlock `hcl:"map,block"`
}

// mapBlock is the HCL form of one parameter mapping. The label names the
// target parameter on the destination node's template.
type mapBlock struct {
	Target      string            `hcl:"target,label"`
	Kind        string            `hcl:"kind"`
	SourceField string            `hcl:"source_field"`
	Transform   string            `hcl:"transform,optional"`
	Args        map[string]string `hcl:"args,optional"`
	Distinct    bool              `hcl:"distinct,optional"`
	Reducer     string            `hcl:"reducer,optional"`
}
