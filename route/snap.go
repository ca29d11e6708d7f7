package route

import "navengine-go/geom"

// Nearest returns the node closest to p. Equidistant nodes resolve to the
// lowest id. ok is false when nodes is empty.
func Nearest(p geom.Point, nodes []Node) (best Node, ok bool) {
	bestDist := 0.0
	for _, n := range nodes {
		d := geom.Dist(p, n.Pos())
		if !ok || d < bestDist || (d == bestDist && n.ID < best.ID) {
			best, bestDist, ok = n, d, true
		}
	}
	return best, ok
}

// Nearest snaps p onto the graph.
func (g *Graph) Nearest(p geom.Point) (Node, bool) { return Nearest(p, g.order) }
