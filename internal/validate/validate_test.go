package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/querygrid/internal/composition"
	"github.com/vk/querygrid/internal/testutil"
	"github.com/vk/querygrid/internal/validate"
)

func codes(t *testing.T, err error) []validate.Code {
	t.Helper()
	require.Error(t, err)
	var errs validate.Errors
	require.ErrorAs(t, err, &errs)
	out := make([]validate.Code, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestGraph_ValidDiamond_PassesValidation(t *testing.T) {
	t.Parallel()

	ids := testutil.Template("ids", "SELECT id FROM src WHERE region = {{region}}",
		composition.Parameter{Name: "region", Type: composition.TypeString, Required: true})
	consume := testutil.Template("consume", "SELECT * FROM t WHERE id IN {{ids}}",
		composition.Parameter{Name: "ids", Type: composition.TypeStringList, Required: true})

	g := testutil.NewGraph("diamond").
		Node("a", ids).
		Node("b", consume).
		Node("c", consume).
		Edge("a", "b", composition.Mapping{TargetParam: "ids", Spec: composition.Flatten{SourceField: "id"}}).
		Edge("a", "c", composition.Mapping{TargetParam: "ids", Spec: composition.Flatten{SourceField: "id"}}).
		Build()

	require.NoError(t, validate.Graph(g))
}

func TestGraph_DanglingAndSelfEdges_AreReported(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("broken").
		Node("a", tmpl).
		Edge("a", "ghost").
		Edge("a", "a").
		Build()

	got := codes(t, validate.Graph(g))
	assert.Contains(t, got, validate.CodeDanglingEdge)
	assert.Contains(t, got, validate.CodeSelfEdge)
}

func TestGraph_UnknownTargetParameter_IsReported(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("g").
		Node("a", tmpl).
		Node("b", tmpl).
		Edge("a", "b", composition.Mapping{TargetParam: "missing", Spec: composition.Direct{SourceField: "x"}}).
		Build()

	got := codes(t, validate.Graph(g))
	assert.Equal(t, []validate.Code{validate.CodeUnknownParameter}, got)
}

func TestGraph_ShapeMismatches_AreReported(t *testing.T) {
	t.Parallel()

	tmpl := testutil.Template("typed", "SELECT {{scalar}}, {{total}}, {{label}}, {{items}}",
		composition.Parameter{Name: "scalar", Type: composition.TypeString},
		composition.Parameter{Name: "total", Type: composition.TypeString},
		composition.Parameter{Name: "label", Type: composition.TypeNumber},
		composition.Parameter{Name: "items", Type: composition.TypeNumber},
	)
	src := testutil.NoParamTemplate("src")

	g := testutil.NewGraph("g").
		Node("a", src).
		Node("b", tmpl).
		Edge("a", "b",
			// flatten into a scalar
			composition.Mapping{TargetParam: "scalar", Spec: composition.Flatten{SourceField: "x"}},
			// sum into a string
			composition.Mapping{TargetParam: "total", Spec: composition.Aggregate{SourceField: "x", Op: composition.ReduceSum}},
			// concat into a number
			composition.Mapping{TargetParam: "label", Spec: composition.Aggregate{SourceField: "x", Op: composition.ReduceConcat}},
			// distinct_union into a scalar
			composition.Mapping{TargetParam: "items", Spec: composition.Aggregate{SourceField: "x", Op: composition.ReduceDistinctUnion}},
		).
		Build()

	got := codes(t, validate.Graph(g))
	require.Len(t, got, 4)
	for _, c := range got {
		assert.Equal(t, validate.CodeShapeMismatch, c)
	}
}

func TestGraph_UnknownTransform_IsRejectedWithChecker(t *testing.T) {
	t.Parallel()

	tmpl := testutil.Template("typed", "SELECT {{v}}",
		composition.Parameter{Name: "v", Type: composition.TypeString})
	src := testutil.NoParamTemplate("src")

	g := testutil.NewGraph("g").
		Node("a", src).
		Node("b", tmpl).
		Edge("a", "b", composition.Mapping{
			TargetParam: "v",
			Spec:        composition.Transform{SourceField: "x", Name: "no_such_transform"},
		}).
		Build()

	// Without a checker the transform name is accepted.
	require.NoError(t, validate.Graph(g))

	known := func(name string) bool { return name == "cast" }
	got := codes(t, validate.Graph(g, validate.WithTransformChecker(known)))
	assert.Equal(t, []validate.Code{validate.CodeUnknownTransform}, got)
}

func TestGraph_MultipleEdgesToSameParameter_RequireAggregate(t *testing.T) {
	t.Parallel()

	tmpl := testutil.Template("typed", "SELECT {{total}}",
		composition.Parameter{Name: "total", Type: composition.TypeNumber})
	src := testutil.NoParamTemplate("src")

	direct := composition.Mapping{TargetParam: "total", Spec: composition.Direct{SourceField: "n"}}
	agg := composition.Mapping{TargetParam: "total", Spec: composition.Aggregate{SourceField: "n", Op: composition.ReduceSum}}

	invalid := testutil.NewGraph("g").
		Node("a", src).Node("b", src).Node("c", tmpl).
		Edge("a", "c", direct).
		Edge("b", "c", agg).
		Build()
	got := codes(t, validate.Graph(invalid))
	assert.Contains(t, got, validate.CodeMultiEdgeTarget)

	valid := testutil.NewGraph("g").
		Node("a", src).Node("b", src).Node("c", tmpl).
		Edge("a", "c", agg).
		Edge("b", "c", agg).
		Build()
	require.NoError(t, validate.Graph(valid))
}

func TestGraph_Cycle_IsReportedWithNodeSequence(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("cyclic").
		Node("a", tmpl).Node("b", tmpl).Node("c", tmpl).
		Edge("a", "b").
		Edge("b", "c").
		Edge("c", "a").
		Build()

	err := validate.Graph(g)
	var errs validate.Errors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 1)
	assert.Equal(t, validate.CodeCycle, errs[0].Code)
	assert.NotEmpty(t, errs[0].Cycle)
	// Every node in the reported sequence is part of the graph.
	for _, id := range errs[0].Cycle {
		assert.Contains(t, []string{"a", "b", "c"}, id)
	}
}
