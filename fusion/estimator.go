package fusion

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"navengine-go/geom"
)

// Emitter is a fixed beacon at a known map coordinate. Label is the broadcast
// name scans are keyed by.
type Emitter struct {
	ID    int     `json:"id"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label string  `json:"ssid"`
}

// Pos returns the emitter coordinate.
func (e Emitter) Pos() geom.Point { return geom.Pt(e.X, e.Y) }

// RawSample is one scan cycle: label -> power (dBm).
type RawSample map[string]float64

// RangeEstimate maps emitter id -> distance (m).
type RangeEstimate map[int]float64

// Strategy selects how ranges are fused into a position.
type Strategy int

const (
	WeightedCentroid Strategy = iota
	ClosestPairMidpoint
)

func (s Strategy) String() string {
	switch s {
	case WeightedCentroid:
		return "weighted_centroid"
	case ClosestPairMidpoint:
		return "closest_pair"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts the names produced by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "weighted_centroid", "centroid":
		return WeightedCentroid, nil
	case "closest_pair", "midpoint":
		return ClosestPairMidpoint, nil
	}
	return 0, fmt.Errorf("unknown position strategy %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Quality grades a fix. The zero value means there is no estimate.
type Quality int

const (
	NoEstimate Quality = iota
	// Degraded is a fix from fewer emitters than recommended.
	Degraded
	Full
)

func (q Quality) String() string {
	switch q {
	case NoEstimate:
		return "none"
	case Degraded:
		return "degraded"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (q *Quality) UnmarshalText(b []byte) error {
	for _, v := range []Quality{NoEstimate, Degraded, Full} {
		if v.String() == string(b) {
			*q = v
			return nil
		}
	}
	return fmt.Errorf("unknown fix quality %q", b)
}

// Fix is the outcome of one position estimate. Position is meaningful only
// when Valid reports true.
type Fix struct {
	Position geom.Point `json:"position"`
	Quality  Quality    `json:"quality"`
	Used     int        `json:"used"`
}

// Valid reports whether the fix carries a position.
func (f Fix) Valid() bool { return f.Quality != NoEstimate }

// Estimator fuses emitter coordinates and ranges into one position.
type Estimator struct {
	Strategy Strategy
	// MinDistance floors ranges before inverting them into weights.
	MinDistance float64
	// MinEmitters is the usable count for a Full centroid fix.
	MinEmitters int
	// RequireMinimum reports below-minimum centroid fixes as NoEstimate
	// instead of Degraded.
	RequireMinimum bool
}

// DefaultEstimator returns a weighted-centroid estimator with stock limits.
func DefaultEstimator() Estimator {
	return Estimator{
		Strategy:    WeightedCentroid,
		MinDistance: DefaultMinDistance,
		MinEmitters: DefaultMinEmitters,
	}
}

type ranged struct {
	e Emitter
	d float64
}

// usable pairs emitters with their ranges, in id order. Emitters without a
// finite non-negative range are skipped.
func usable(emitters []Emitter, ranges RangeEstimate) []ranged {
	out := make([]ranged, 0, len(ranges))
	for _, e := range emitters {
		d, ok := ranges[e.ID]
		if !ok || math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			continue
		}
		out = append(out, ranged{e: e, d: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].e.ID < out[j].e.ID })
	return out
}

// Estimate returns the fused position, or a NoEstimate fix when too few
// emitters are usable for the strategy.
func (est Estimator) Estimate(emitters []Emitter, ranges RangeEstimate) Fix {
	rs := usable(emitters, ranges)
	switch est.Strategy {
	case ClosestPairMidpoint:
		return closestPair(rs)
	default:
		return est.centroid(rs)
	}
}

func (est Estimator) centroid(rs []ranged) Fix {
	if len(rs) == 0 {
		return Fix{}
	}
	minEmitters := est.MinEmitters
	if minEmitters <= 0 {
		minEmitters = DefaultMinEmitters
	}
	if est.RequireMinimum && len(rs) < minEmitters {
		return Fix{Used: len(rs)}
	}
	floor := est.MinDistance
	if floor <= 0 {
		floor = DefaultMinDistance
	}

	w := make([]float64, len(rs))
	xs := make([]float64, len(rs))
	ys := make([]float64, len(rs))
	for i, r := range rs {
		w[i] = 1 / math.Max(r.d, floor)
		xs[i] = r.e.X
		ys[i] = r.e.Y
	}
	total := floats.Sum(w)
	pos := geom.Pt(floats.Dot(w, xs)/total, floats.Dot(w, ys)/total)

	q := Full
	if len(rs) < minEmitters {
		q = Degraded
	}
	return Fix{Position: pos, Quality: q, Used: len(rs)}
}

// closestPair takes the two nearest emitters, which are the two strongest
// since the range model is monotonic in power.
func closestPair(rs []ranged) Fix {
	if len(rs) < minPairEmitters {
		return Fix{Used: len(rs)}
	}
	sorted := append([]ranged(nil), rs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].d < sorted[j].d })
	a, b := sorted[0].e, sorted[1].e
	return Fix{Position: geom.Midpoint(a.Pos(), b.Pos()), Quality: Full, Used: minPairEmitters}
}
