package buildplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLayersSimpleChain(t *testing.T) {
	nodes := []Node{
		{Pkgbase: "a", Pkgnames: []string{"a"}, Needs: []string{"c"}},
		{Pkgbase: "b", Pkgnames: []string{"b"}, Needs: []string{"c"}},
		{Pkgbase: "c", Pkgnames: []string{"c"}},
	}

	plan, err := Build(nodes)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 2)

	assert.Equal(t, Stage{"c"}, plan.Stages[0])
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Stages[1])

	assert.Less(t, plan.StageOf("c"), plan.StageOf("a"))
	assert.Less(t, plan.StageOf("c"), plan.StageOf("b"))
}

func TestBuildDetectsCycle(t *testing.T) {
	nodes := []Node{
		{Pkgbase: "a", Pkgnames: []string{"a"}, Needs: []string{"b"}},
		{Pkgbase: "b", Pkgnames: []string{"b"}, Needs: []string{"a"}},
	}

	_, err := Build(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDetectsAmbiguousProvider(t *testing.T) {
	nodes := []Node{
		{Pkgbase: "x", Provides: []string{"foo"}},
		{Pkgbase: "y", Provides: []string{"foo"}},
		{Pkgbase: "z", Needs: []string{"foo"}},
	}

	_, err := Build(nodes)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "foo")
}

func TestBuildIndependentNodesShareOneStage(t *testing.T) {
	nodes := []Node{
		{Pkgbase: "a", Pkgnames: []string{"a"}},
		{Pkgbase: "b", Pkgnames: []string{"b"}},
	}

	plan, err := Build(nodes)
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Stages[0])
}
