package schedule_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/querygrid/internal/schedule"
	"github.com/vk/querygrid/internal/testutil"
)

func TestWaves_Diamond_GroupsByDepth(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("diamond").
		Node("a", tmpl).Node("b", tmpl).Node("c", tmpl).Node("d", tmpl).
		Edge("a", "b").
		Edge("a", "c").
		Edge("b", "d").
		Edge("c", "d").
		Build()

	waves, err := schedule.Waves(g)
	require.NoError(t, err)

	want := [][]string{{"a"}, {"b", "c"}, {"d"}}
	assert.Empty(t, cmp.Diff(want, waves))
}

func TestWaves_IndependentNodes_ShareTheFirstWave(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("flat").
		Node("x", tmpl).Node("y", tmpl).Node("z", tmpl).
		Build()

	waves, err := schedule.Waves(g)
	require.NoError(t, err)
	require.Len(t, waves, 1)
	assert.Equal(t, []string{"x", "y", "z"}, waves[0])
}

func TestWaves_ParallelEdges_CountOnce(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("parallel").
		Node("a", tmpl).Node("b", tmpl).
		Edge("a", "b").
		Edge("a", "b").
		Build()

	waves, err := schedule.Waves(g)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}, {"b"}}, waves)
}

// Every node appears exactly once, and strictly after all of its upstreams.
func TestWaves_OrderingProperty_HoldsOnWideGraph(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("wide").
		Node("src1", tmpl).Node("src2", tmpl).
		Node("mid1", tmpl).Node("mid2", tmpl).Node("mid3", tmpl).
		Node("sink", tmpl).
		Edge("src1", "mid1").
		Edge("src1", "mid2").
		Edge("src2", "mid2").
		Edge("src2", "mid3").
		Edge("mid1", "sink").
		Edge("mid2", "sink").
		Edge("mid3", "sink").
		Build()

	waves, err := schedule.Waves(g)
	require.NoError(t, err)

	waveOf := make(map[string]int)
	for i, wave := range waves {
		for _, id := range wave {
			_, dup := waveOf[id]
			require.False(t, dup, "node %s scheduled twice", id)
			waveOf[id] = i
		}
	}
	assert.Len(t, waveOf, len(g.Nodes))

	for _, e := range g.Edges {
		assert.Less(t, waveOf[e.From], waveOf[e.To],
			"node %s must run before %s", e.From, e.To)
	}
}

func TestWaves_Cycle_ReturnsError(t *testing.T) {
	t.Parallel()

	tmpl := testutil.NoParamTemplate("noop")
	g := testutil.NewGraph("cyclic").
		Node("a", tmpl).Node("b", tmpl).
		Edge("a", "b").
		Edge("b", "a").
		Build()

	_, err := schedule.Waves(g)
	require.Error(t, err)
}
