package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGraphIndexes(t *testing.T) {
	g, err := NewGraph(
		[]Node{{ID: 3, X: 10, Y: 10}, {ID: 1}, {ID: 2, X: 10}},
		[]Edge{{From: 1, To: 2}, {From: 3, To: 2}, {From: 2, To: 1}},
	)
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, 2, g.EdgeCount(), "reversed duplicate collapses")
	assert.Equal(t, []int{1, 2, 3}, Route(g.Nodes()).IDs())
	assert.Equal(t, []int{1, 3}, g.Neighbors(2))
	assert.True(t, g.HasEdge(2, 3))
	assert.True(t, g.HasEdge(3, 2))
	assert.False(t, g.HasEdge(1, 3))
	assert.Equal(t, []Edge{{From: 1, To: 2}, {From: 2, To: 3}}, g.Edges())

	n, ok := g.Node(3)
	require.True(t, ok)
	assert.Equal(t, 10.0, n.Y)
	_, ok = g.Node(9)
	assert.False(t, ok)
}

func TestNewGraphRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
		want  error
	}{
		{"duplicate node", []Node{{ID: 1}, {ID: 1, X: 3}}, nil, ErrDuplicateNode},
		{"unknown from", []Node{{ID: 1}}, []Edge{{From: 7, To: 1}}, ErrUnknownNode},
		{"unknown to", []Node{{ID: 1}}, []Edge{{From: 1, To: 7}}, ErrUnknownNode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.nodes, tt.edges)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := NewGraph([]Node{{ID: 1}}, []Edge{{From: 1, To: 1}})
	assert.Error(t, err)
}

func TestGraphGonumExport(t *testing.T) {
	g := abc(t, true)
	wg := g.Gonum()
	assert.Equal(t, 3, wg.Nodes().Len())
	w, ok := wg.Weight(1, 2)
	require.True(t, ok)
	assert.Equal(t, 10.0, w)
	assert.Nil(t, wg.Edge(1, 3))
}
