package route

import (
	"math"

	"navengine-go/geom"
)

// Walk samples the route polyline every step metres, starting at the first
// node and always ending on the last. A route of one node yields that node;
// an empty route or a non-positive step yields nothing.
func (r Route) Walk(step float64) []geom.Point {
	if len(r) == 0 || step <= 0 || math.IsNaN(step) {
		return nil
	}
	pts := []geom.Point{r[0].Pos()}
	// carry is how far into the current leg the next sample falls
	carry := step
	for i := 1; i < len(r); i++ {
		a, b := r[i-1].Pos(), r[i].Pos()
		leg := geom.Dist(a, b)
		for ; carry < leg; carry += step {
			t := carry / leg
			pts = append(pts, geom.Pt(a.X+(b.X-a.X)*t, a.Y+(b.Y-a.Y)*t))
		}
		carry -= leg
	}
	if last := r[len(r)-1].Pos(); !geom.Near(pts[len(pts)-1], last, 1e-9) {
		pts = append(pts, last)
	}
	return pts
}
