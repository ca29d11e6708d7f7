// Package route holds the walkable node graph, nearest-node snapping, A*
// search and the grid segment builder used to author graphs.
package route

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"navengine-go/geom"
)

var (
	// ErrUnknownNode is returned for a node id that is not in the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrDuplicateNode is returned when two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node")
)

// Node is a point on the walkable graph.
type Node struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Pos returns the node coordinate.
func (n Node) Pos() geom.Point { return geom.Pt(n.X, n.Y) }

// Edge is an unordered pair of node ids.
type Edge struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// key returns the pair with the lower id first.
func (e Edge) key() Edge {
	if e.From > e.To {
		return Edge{From: e.To, To: e.From}
	}
	return e
}

// Graph is an undirected graph with Euclidean edge costs. It is read-only
// once built and safe for concurrent readers.
type Graph struct {
	nodes map[int]Node
	adj   map[int][]int
	order []Node
	edges []Edge
}

// NewGraph indexes nodes and edges. Each edge is stored in both directions;
// repeated edges collapse into one.
func NewGraph(nodes []Node, edges []Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[int]Node, len(nodes)),
		adj:   make(map[int][]int, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("node %d: %w", n.ID, ErrDuplicateNode)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i].ID < g.order[j].ID })

	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge %d-%d: from %d: %w", e.From, e.To, e.From, ErrUnknownNode)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("edge %d-%d: to %d: %w", e.From, e.To, e.To, ErrUnknownNode)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("edge %d-%d: self loop", e.From, e.To)
		}
		k := e.key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		g.edges = append(g.edges, k)
		g.adj[k.From] = append(g.adj[k.From], k.To)
		g.adj[k.To] = append(g.adj[k.To], k.From)
	}
	for id := range g.adj {
		sort.Ints(g.adj[id])
	}
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i].From != g.edges[j].From {
			return g.edges[i].From < g.edges[j].From
		}
		return g.edges[i].To < g.edges[j].To
	})
	return g, nil
}

// Node looks up a node by id.
func (g *Graph) Node(id int) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Neighbors returns the ids adjacent to id in ascending order. The slice is
// shared and must not be modified.
func (g *Graph) Neighbors(id int) []int { return g.adj[id] }

// HasEdge reports whether a and b are connected, in either direction.
func (g *Graph) HasEdge(a, b int) bool {
	for _, n := range g.adj[a] {
		if n == b {
			return true
		}
	}
	return false
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []Node { return g.order }

// Edges returns each undirected edge once, lower id first.
func (g *Graph) Edges() []Edge { return g.edges }

func (g *Graph) Len() int { return len(g.order) }

func (g *Graph) EdgeCount() int { return len(g.edges) }

// Cost is the Euclidean distance between two nodes, +Inf if either is unknown.
func (g *Graph) Cost(a, b int) float64 {
	na, ok := g.nodes[a]
	if !ok {
		return math.Inf(1)
	}
	nb, ok := g.nodes[b]
	if !ok {
		return math.Inf(1)
	}
	return geom.Dist(na.Pos(), nb.Pos())
}

// Gonum exports the graph as a gonum weighted undirected graph with node ids
// carried over.
func (g *Graph) Gonum() *simple.WeightedUndirectedGraph {
	wg := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, n := range g.order {
		wg.AddNode(simple.Node(n.ID))
	}
	for _, e := range g.edges {
		wg.SetWeightedEdge(wg.NewWeightedEdge(simple.Node(e.From), simple.Node(e.To), g.Cost(e.From, e.To)))
	}
	return wg
}

// Heuristic returns the straight-line heuristic for use with gonum's path
// searches over Gonum().
func (g *Graph) Heuristic() path.Heuristic {
	return func(x, y graph.Node) float64 {
		return g.Cost(int(x.ID()), int(y.ID()))
	}
}
