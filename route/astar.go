package route

import (
	"container/heap"
	"fmt"

	"navengine-go/geom"
)

// Route is an ordered node sequence from start to goal inclusive. An empty
// Route means the goal is unreachable.
type Route []Node

// IDs returns the node ids along the route.
func (r Route) IDs() []int {
	ids := make([]int, len(r))
	for i, n := range r {
		ids[i] = n.ID
	}
	return ids
}

// Cost is the summed Euclidean length of the route.
func (r Route) Cost() float64 {
	total := 0.0
	for i := 1; i < len(r); i++ {
		total += geom.Dist(r[i-1].Pos(), r[i].Pos())
	}
	return total
}

// Valid reports whether every node is in g and every consecutive pair is
// an edge of g.
func (r Route) Valid(g *Graph) bool {
	for i, n := range r {
		if _, ok := g.Node(n.ID); !ok {
			return false
		}
		if i > 0 && !g.HasEdge(r[i-1].ID, n.ID) {
			return false
		}
	}
	return true
}

type openEntry struct {
	id int
	f  float64
}

// openQueue is a min-heap on (f, id).
type openQueue []openEntry

func (q openQueue) Len() int { return len(q) }
func (q openQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].id < q[j].id
}
func (q openQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *openQueue) Push(x any) { *q = append(*q, x.(openEntry)) }
func (q *openQueue) Pop() any {
	old := *q
	e := old[len(old)-1]
	*q = old[:len(old)-1]
	return e
}

// FindRoute runs A* from start to goal with straight-line distance as both
// edge cost and heuristic. Unreachable goals yield an empty Route and a nil
// error; ids missing from g yield ErrUnknownNode.
func FindRoute(g *Graph, start, goal int) (Route, error) {
	startNode, ok := g.Node(start)
	if !ok {
		return nil, fmt.Errorf("route start %d: %w", start, ErrUnknownNode)
	}
	if _, ok := g.Node(goal); !ok {
		return nil, fmt.Errorf("route goal %d: %w", goal, ErrUnknownNode)
	}
	if start == goal {
		return Route{startNode}, nil
	}

	h := func(id int) float64 { return g.Cost(id, goal) }

	gScore := map[int]float64{start: 0}
	fScore := map[int]float64{start: h(start)}
	cameFrom := make(map[int]int)
	inOpen := map[int]bool{start: true}
	closed := make(map[int]bool)

	open := &openQueue{{id: start, f: fScore[start]}}
	for open.Len() > 0 {
		cur := heap.Pop(open).(openEntry)
		if !inOpen[cur.id] || cur.f > fScore[cur.id] {
			// stale: the node was re-pushed with a lower f or already expanded
			continue
		}
		if cur.id == goal {
			return reconstruct(g, cameFrom, goal), nil
		}
		delete(inOpen, cur.id)
		closed[cur.id] = true

		for _, next := range g.Neighbors(cur.id) {
			if closed[next] {
				continue
			}
			tentative := gScore[cur.id] + g.Cost(cur.id, next)
			if old, seen := gScore[next]; seen && tentative >= old {
				continue
			}
			cameFrom[next] = cur.id
			gScore[next] = tentative
			fScore[next] = tentative + h(next)
			inOpen[next] = true
			heap.Push(open, openEntry{id: next, f: fScore[next]})
		}
	}
	return Route{}, nil
}

func reconstruct(g *Graph, cameFrom map[int]int, goal int) Route {
	var rev []Node
	for id, ok := goal, true; ok; id, ok = cameFrom[id] {
		n, _ := g.Node(id)
		rev = append(rev, n)
	}
	out := make(Route, len(rev))
	for i, n := range rev {
		out[len(rev)-1-i] = n
	}
	return out
}
