// Package mapping converts an upstream node's output rows into a downstream
// node's input parameters according to the edge's declared mapping kind.
package mapping

import (
	"fmt"

	"github.com/vk/querygrid/internal/composition"
)

// Input is one incoming edge's contribution to a target parameter.
type Input struct {
	SourceNode string
	Spec       composition.MappingSpec
	// Result is the source node's completed result set; nil when the source
	// did not succeed.
	Result *composition.ResultSet
	// SourceSucceeded is false when the upstream node reached a terminal
	// state other than SUCCEEDED (best-effort runs only; strict runs block
	// the target before mapping is attempted).
	SourceSucceeded bool
}

// Mapper produces parameter values from mapping specs. Transform mappings
// resolve against the injected registry.
type Mapper struct {
	reg *Registry
}

// New returns a Mapper using the given transform registry.
func New(reg *Registry) *Mapper {
	return &Mapper{reg: reg}
}

// Registry exposes the mapper's transform registry, e.g. for validation.
func (m *Mapper) Registry() *Registry { return m.reg }

// Value produces the value for one target parameter from all of its
// incoming edge contributions. When more than one edge targets the
// parameter, every spec must be an aggregate mapping. The validator enforces
// this for loaded graphs; graphs built in code get the same check here, as a
// mapping error.
//
// The returned error is IsNoValue when the mapping legitimately produced
// nothing and the caller should fall back to the parameter default.
func (m *Mapper) Value(param composition.Parameter, inputs []Input) (any, error) {
	if len(inputs) == 0 {
		return nil, errNoValue
	}
	if len(inputs) > 1 {
		return m.combine(param, inputs)
	}
	return m.single(param, inputs[0])
}

func (m *Mapper) single(param composition.Parameter, in Input) (any, error) {
	values, err := m.extract(param, in)
	if err != nil {
		return nil, err
	}

	var out any
	switch spec := in.Spec.(type) {
	case composition.Direct:
		if len(values) > 1 {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("direct mapping from %q matched %d rows; use flatten for multi-row sources", in.SourceNode, len(values))}
		}
		out = values[0]
	case composition.Transform:
		fn, ok := m.reg.lookup(spec.Name)
		if !ok {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("unknown transform %q", spec.Name)}
		}
		var arg any
		if len(values) == 1 {
			arg = values[0]
		} else {
			arg = values
		}
		out, err = fn(arg, spec.Args)
		if err != nil {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("transform %q failed", spec.Name), Err: err}
		}
	case composition.Flatten:
		if spec.Distinct {
			values = dedupe(values)
		}
		out = values
	case composition.Aggregate:
		out, err = reduce(spec.Op, values)
		if err != nil {
			return nil, &Error{Param: param.Name, Reason: "aggregate failed", Err: err}
		}
	default:
		return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("unknown mapping kind %q", in.Spec.Kind())}
	}

	coerced, err := coerce(param, out)
	if err != nil {
		return nil, &Error{Param: param.Name, Reason: "incompatible value", Err: err}
	}
	return coerced, nil
}

// combine handles multiple edges targeting the same parameter: aggregate
// mappings only, all with the same reducer.
func (m *Mapper) combine(param composition.Parameter, inputs []Input) (any, error) {
	var op composition.ReducerOp
	var all []any
	for _, in := range inputs {
		agg, ok := in.Spec.(composition.Aggregate)
		if !ok {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("%d edges target this parameter; only aggregate mappings may combine multiple edges", len(inputs))}
		}
		if op == "" {
			op = agg.Op
		} else if agg.Op != op {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("conflicting reducers %s and %s on one parameter", op, agg.Op)}
		}
		values, err := m.extract(param, in)
		if err != nil {
			if IsNoValue(err) {
				continue
			}
			return nil, err
		}
		all = append(all, values...)
	}
	if len(all) == 0 {
		if param.Required {
			return nil, &Error{Param: param.Name, Reason: "no upstream produced any value"}
		}
		return nil, errNoValue
	}

	out, err := reduce(op, all)
	if err != nil {
		return nil, &Error{Param: param.Name, Reason: "aggregate failed", Err: err}
	}
	coerced, err := coerce(param, out)
	if err != nil {
		return nil, &Error{Param: param.Name, Reason: "incompatible value", Err: err}
	}
	return coerced, nil
}

// extract pulls the mapping's source field out of the input's result rows,
// applying the empty/failed-upstream policy for the parameter.
func (m *Mapper) extract(param composition.Parameter, in Input) ([]any, error) {
	if !in.SourceSucceeded || in.Result == nil {
		if param.Required {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("required value unavailable: upstream %q did not succeed", in.SourceNode)}
		}
		return nil, errNoValue
	}

	field := in.Spec.Source()
	if len(in.Result.Columns) > 0 && !in.Result.HasColumn(field) {
		return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("upstream %q has no output field %q", in.SourceNode, field)}
	}
	values := in.Result.Values(field)
	if len(values) == 0 {
		// Count over an empty result is a legitimate zero, not a missing value.
		if agg, ok := in.Spec.(composition.Aggregate); ok && agg.Op == composition.ReduceCount {
			return values, nil
		}
		if param.Required {
			return nil, &Error{Param: param.Name, Reason: fmt.Sprintf("upstream %q produced no rows for a required parameter", in.SourceNode)}
		}
		return nil, errNoValue
	}
	return values, nil
}

// dedupe removes duplicate values, preserving first-seen order.
func dedupe(values []any) []any {
	seen := make(map[string]bool, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		key := stringify(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// reduce applies an aggregate reducer over the collected values.
func reduce(op composition.ReducerOp, values []any) (any, error) {
	switch op {
	case composition.ReduceSum:
		var sum float64
		for _, v := range values {
			n, err := toNumber(v)
			if err != nil {
				return nil, fmt.Errorf("sum: %w", err)
			}
			sum += n
		}
		return sum, nil
	case composition.ReduceConcat:
		var s string
		for _, v := range values {
			s += stringify(v)
		}
		return s, nil
	case composition.ReduceDistinctUnion:
		return dedupe(values), nil
	case composition.ReduceCount:
		return float64(len(values)), nil
	}
	return nil, fmt.Errorf("unknown reducer %q", op)
}
