package composition

import "fmt"

// MappingKind names the strategy used to pass one node's output into
// another node's input parameter.
type MappingKind string

const (
	KindDirect    MappingKind = "direct"
	KindTransform MappingKind = "transform"
	KindFlatten   MappingKind = "flatten"
	KindAggregate MappingKind = "aggregate"
)

// ReducerOp is the combining operation of an aggregate mapping.
type ReducerOp string

const (
	ReduceSum           ReducerOp = "sum"
	ReduceConcat        ReducerOp = "concat"
	ReduceDistinctUnion ReducerOp = "distinct_union"
	ReduceCount         ReducerOp = "count"
)

// ParseReducerOp converts the textual form used in composition definitions
// into a ReducerOp.
func ParseReducerOp(s string) (ReducerOp, error) {
	switch ReducerOp(s) {
	case ReduceSum, ReduceConcat, ReduceDistinctUnion, ReduceCount:
		return ReducerOp(s), nil
	}
	return "", fmt.Errorf("unknown reducer %q", s)
}

// MappingSpec is the closed set of mapping configurations. Exactly one of
// Direct, Transform, Flatten, or Aggregate implements it; unknown kinds are
// rejected when a composition is loaded, never at mapping-application time.
type MappingSpec interface {
	Kind() MappingKind
	// SourceField names the column of the upstream result the mapping reads.
	Source() string
	sealed()
}

// Direct takes the designated output field verbatim, without shape change.
type Direct struct {
	SourceField string
}

func (Direct) Kind() MappingKind { return KindDirect }
func (d Direct) Source() string  { return d.SourceField }
func (Direct) sealed()           {}

// Transform applies a named, pre-registered scalar transformation to the
// source value.
type Transform struct {
	SourceField string
	Name        string
	Args        map[string]string
}

func (Transform) Kind() MappingKind { return KindTransform }
func (t Transform) Source() string  { return t.SourceField }
func (Transform) sealed()           {}

// Flatten collects the designated field across all source rows into a list.
type Flatten struct {
	SourceField string
	Distinct    bool
}

func (Flatten) Kind() MappingKind { return KindFlatten }
func (f Flatten) Source() string  { return f.SourceField }
func (Flatten) sealed()           {}

// Aggregate reduces the designated field across all source rows (and across
// multiple incoming edges targeting the same parameter) to a single value.
type Aggregate struct {
	SourceField string
	Op          ReducerOp
}

func (Aggregate) Kind() MappingKind { return KindAggregate }
func (a Aggregate) Source() string  { return a.SourceField }
func (Aggregate) sealed()           {}

// Mapping binds a mapping spec to the target node's named parameter.
type Mapping struct {
	TargetParam string
	Spec        MappingSpec
}

// Edge is a directed connection between two nodes carrying an ordered list
// of parameter mappings.
type Edge struct {
	From     string
	To       string
	Mappings []Mapping
}
