package route

import (
	"math"
	"sort"

	"navengine-go/geom"
)

// snapTolerance absorbs float noise when matching coordinates to grid cells.
const snapTolerance = 1e-9

// SnapToGrid rounds p to the nearest multiple of spacing on both axes.
// A non-positive spacing returns p unchanged.
func SnapToGrid(p geom.Point, spacing float64) geom.Point {
	if spacing <= 0 {
		return p
	}
	return geom.Pt(math.Round(p.X/spacing)*spacing, math.Round(p.Y/spacing)*spacing)
}

type cell struct{ x, y int64 }

func cellOf(p geom.Point, spacing float64) cell {
	return cell{int64(math.Round(p.X / spacing)), int64(math.Round(p.Y / spacing))}
}

// Segment is the result of laying one straight walkway onto the grid.
type Segment struct {
	// Nodes are newly created, in walk order.
	Nodes []Node
	// Reused are existing nodes the walk passed through, in walk order.
	Reused []Node
	// Edges are unique unordered pairs, lower id first.
	Edges []Edge

	path []int
}

// Path returns the node ids visited from start to end.
func (s Segment) Path() []int {
	return s.path
}

// BuildSegment lays a straight walkway from start to end onto a grid with
// the given spacing. Both endpoints are snapped; the walk visits every grid
// cell along the line. A cell already holding an on-grid node from existing
// reuses it (lowest id if several), otherwise a node is created with ids
// counting up from nextID. Consecutive walk nodes are joined, and each walk
// node is joined to every other known node within radius. BuildSegment does
// not modify existing and returns an empty Segment for a non-positive spacing.
func BuildSegment(start, end geom.Point, spacing, radius float64, existing []Node, nextID int) Segment {
	var seg Segment
	if spacing <= 0 {
		return seg
	}

	sorted := append([]Node(nil), existing...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byCell := make(map[cell]Node, len(sorted))
	for _, n := range sorted {
		if !geom.Near(SnapToGrid(n.Pos(), spacing), n.Pos(), snapTolerance) {
			continue
		}
		c := cellOf(n.Pos(), spacing)
		if _, taken := byCell[c]; !taken {
			byCell[c] = n
		}
	}

	known := sorted
	reused := make(map[int]bool)
	var walk []Node
	for _, p := range gridWalk(SnapToGrid(start, spacing), SnapToGrid(end, spacing), spacing) {
		c := cellOf(p, spacing)
		n, ok := byCell[c]
		if !ok {
			n = Node{ID: nextID, X: p.X, Y: p.Y}
			nextID++
			byCell[c] = n
			seg.Nodes = append(seg.Nodes, n)
			known = append(known, n)
		} else if !reused[n.ID] && !isNew(seg.Nodes, n.ID) {
			reused[n.ID] = true
			seg.Reused = append(seg.Reused, n)
		}
		if len(walk) == 0 || walk[len(walk)-1].ID != n.ID {
			walk = append(walk, n)
		}
	}

	edges := make(map[Edge]struct{})
	add := func(a, b int) {
		if a == b {
			return
		}
		k := Edge{From: a, To: b}.key()
		if _, dup := edges[k]; dup {
			return
		}
		edges[k] = struct{}{}
		seg.Edges = append(seg.Edges, k)
	}
	for i := 1; i < len(walk); i++ {
		add(walk[i-1].ID, walk[i].ID)
	}
	if radius > 0 {
		for _, w := range walk {
			for _, n := range known {
				if n.ID != w.ID && geom.Dist(w.Pos(), n.Pos()) <= radius+snapTolerance {
					add(w.ID, n.ID)
				}
			}
		}
	}
	for _, w := range walk {
		seg.path = append(seg.path, w.ID)
	}
	return seg
}

func isNew(nodes []Node, id int) bool {
	for _, n := range nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// gridWalk samples the segment a-b at grid resolution. a and b must already
// be on the grid; the result starts at a, ends at b and has no repeats.
func gridWalk(a, b geom.Point, spacing float64) []geom.Point {
	steps := int(math.Round(math.Max(math.Abs(b.X-a.X), math.Abs(b.Y-a.Y)) / spacing))
	out := []geom.Point{a}
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := SnapToGrid(geom.Pt(a.X+t*(b.X-a.X), a.Y+t*(b.Y-a.Y)), spacing)
		if !geom.Near(p, out[len(out)-1], snapTolerance) {
			out = append(out, p)
		}
	}
	return out
}

// Builder accumulates segments into a node and edge set. The zero value is
// not usable; call NewBuilder.
type Builder struct {
	spacing float64
	radius  float64
	nodes   []Node
	edges   []Edge
	seen    map[Edge]struct{}
	nextID  int
}

// NewBuilder starts from an existing graph, which may be empty. New node
// ids continue after the largest existing id.
func NewBuilder(spacing, radius float64, nodes []Node, edges []Edge) *Builder {
	b := &Builder{
		spacing: spacing,
		radius:  radius,
		seen:    make(map[Edge]struct{}, len(edges)),
		nextID:  1,
	}
	for _, n := range nodes {
		b.nodes = append(b.nodes, n)
		if n.ID >= b.nextID {
			b.nextID = n.ID + 1
		}
	}
	for _, e := range edges {
		b.addEdge(e)
	}
	return b
}

func (b *Builder) addEdge(e Edge) bool {
	k := e.key()
	if _, dup := b.seen[k]; dup || k.From == k.To {
		return false
	}
	b.seen[k] = struct{}{}
	b.edges = append(b.edges, k)
	return true
}

// AddSegment lays start-end onto the grid and merges the result. The
// returned Segment lists only edges that were not already present.
func (b *Builder) AddSegment(start, end geom.Point) Segment {
	seg := BuildSegment(start, end, b.spacing, b.radius, b.nodes, b.nextID)
	b.nodes = append(b.nodes, seg.Nodes...)
	b.nextID += len(seg.Nodes)
	fresh := seg.Edges[:0]
	for _, e := range seg.Edges {
		if b.addEdge(e) {
			fresh = append(fresh, e)
		}
	}
	seg.Edges = fresh
	return seg
}

// Nodes returns the accumulated nodes in insertion order.
func (b *Builder) Nodes() []Node { return b.nodes }

// Edges returns the accumulated edges in insertion order.
func (b *Builder) Edges() []Edge { return b.edges }

// Graph indexes the accumulated nodes and edges.
func (b *Builder) Graph() (*Graph, error) { return NewGraph(b.nodes, b.edges) }
