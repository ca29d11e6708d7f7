package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navengine-go/geom"
)

func TestSnapToGrid(t *testing.T) {
	assert.Equal(t, geom.Pt(2, 4), SnapToGrid(geom.Pt(2.4, 3.6), 1))
	assert.Equal(t, geom.Pt(0.5, 1.5), SnapToGrid(geom.Pt(0.6, 1.3), 0.5))
	assert.Equal(t, geom.Pt(1.3, 2.7), SnapToGrid(geom.Pt(1.3, 2.7), 0))
}

func TestBuildSegmentStraight(t *testing.T) {
	seg := BuildSegment(geom.Pt(0.4, 0.2), geom.Pt(2.6, -0.3), 1, 0, nil, 10)

	assert.Equal(t, []int{10, 11, 12, 13}, Route(seg.Nodes).IDs())
	assert.Equal(t, geom.Pt(3, 0), seg.Nodes[3].Pos())
	assert.Empty(t, seg.Reused)
	assert.Equal(t, []Edge{{From: 10, To: 11}, {From: 11, To: 12}, {From: 12, To: 13}}, seg.Edges)
	assert.Equal(t, []int{10, 11, 12, 13}, seg.Path())
}

func TestBuildSegmentDiagonal(t *testing.T) {
	seg := BuildSegment(geom.Pt(0, 0), geom.Pt(2, 2), 1, 0, nil, 1)
	require.Len(t, seg.Nodes, 3)
	assert.Equal(t, geom.Pt(1, 1), seg.Nodes[1].Pos())
	assert.Len(t, seg.Edges, 2)
}

func TestBuildSegmentReusesExisting(t *testing.T) {
	existing := []Node{{ID: 5, X: 2, Y: 0}}
	seg := BuildSegment(geom.Pt(0, 0), geom.Pt(3, 0), 1, 0, existing, 10)

	assert.Equal(t, []int{10, 11, 12}, Route(seg.Nodes).IDs())
	assert.Equal(t, []Node{{ID: 5, X: 2}}, seg.Reused)
	assert.ElementsMatch(t, []Edge{{From: 10, To: 11}, {From: 5, To: 11}, {From: 5, To: 12}}, seg.Edges)
	assert.Equal(t, []int{10, 11, 5, 12}, seg.Path())
	assert.Len(t, existing, 1, "input is not modified")
}

func TestBuildSegmentConnectsWithinRadius(t *testing.T) {
	var existing []Node
	for i := 0; i < 4; i++ {
		existing = append(existing, Node{ID: i + 1, X: float64(i), Y: 1})
	}
	seg := BuildSegment(geom.Pt(0, 0), geom.Pt(3, 0), 1, 1, existing, 10)

	assert.Len(t, seg.Nodes, 4)
	assert.Len(t, seg.Edges, 7, "3 along the walk, 4 to the row above")
	assert.Contains(t, seg.Edges, Edge{From: 1, To: 10})
	assert.NotContains(t, seg.Edges, Edge{From: 2, To: 10}, "diagonal is beyond radius")
}

func TestBuildSegmentSinglePoint(t *testing.T) {
	seg := BuildSegment(geom.Pt(1.1, 1.1), geom.Pt(0.9, 0.8), 1, 0, nil, 1)
	assert.Len(t, seg.Nodes, 1)
	assert.Empty(t, seg.Edges)
}

func TestBuildSegmentBadSpacing(t *testing.T) {
	seg := BuildSegment(geom.Pt(0, 0), geom.Pt(3, 0), 0, 1, nil, 1)
	assert.Empty(t, seg.Nodes)
	assert.Empty(t, seg.Edges)
}

func TestBuilderNoDuplicateEdges(t *testing.T) {
	b := NewBuilder(1, 0, nil, nil)
	first := b.AddSegment(geom.Pt(0, 0), geom.Pt(3, 0))
	assert.Len(t, first.Edges, 3)

	again := b.AddSegment(geom.Pt(0, 0), geom.Pt(3, 0))
	assert.Empty(t, again.Nodes)
	assert.Len(t, again.Reused, 4)
	assert.Empty(t, again.Edges)

	assert.Len(t, b.Nodes(), 4)
	assert.Len(t, b.Edges(), 3)
}

func TestBuilderCrossingSegmentsRoute(t *testing.T) {
	b := NewBuilder(1, 0, nil, nil)
	b.AddSegment(geom.Pt(0, 0), geom.Pt(4, 0))
	cross := b.AddSegment(geom.Pt(2, -2), geom.Pt(2, 2))
	require.Len(t, cross.Reused, 1)
	assert.Equal(t, geom.Pt(2, 0), cross.Reused[0].Pos())

	g, err := b.Graph()
	require.NoError(t, err)
	assert.Equal(t, 9, g.Len())

	from, ok := g.Nearest(geom.Pt(0, 0))
	require.True(t, ok)
	to, ok := g.Nearest(geom.Pt(2, 2))
	require.True(t, ok)
	r, err := FindRoute(g, from.ID, to.ID)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, r.Cost(), 1e-9)
	assert.True(t, r.Valid(g))
}

func TestNewBuilderContinuesIDs(t *testing.T) {
	b := NewBuilder(1, 0, []Node{{ID: 7, X: 5, Y: 5}}, nil)
	seg := b.AddSegment(geom.Pt(0, 0), geom.Pt(1, 0))
	assert.Equal(t, []int{8, 9}, Route(seg.Nodes).IDs())
}
