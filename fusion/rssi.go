package fusion

import "math"

// RangeModel converts received power to distance with the log-distance
// path-loss model: d = 10^((ref - p) / (10 n)).
type RangeModel struct {
	// ReferencePower is the power received at 1 m, dBm.
	ReferencePower float64 `json:"reference_power"`
	// PathLossExponent is 2 in free space, larger indoors.
	PathLossExponent float64 `json:"path_loss_exponent"`
}

// DefaultRangeModel returns the free-space model referenced at -59 dBm.
func DefaultRangeModel() RangeModel {
	return RangeModel{ReferencePower: DefaultReferencePower, PathLossExponent: DefaultPathLossExponent}
}

// Distance returns the estimated distance in metres for a power reading in dBm.
func (m RangeModel) Distance(power float64) float64 {
	return math.Pow(10, (m.ReferencePower-power)/(10*m.PathLossExponent))
}

// Power is the inverse of Distance. Distances at or below zero map to the
// reference power.
func (m RangeModel) Power(distance float64) float64 {
	if distance <= 0 {
		return m.ReferencePower
	}
	return m.ReferencePower - 10*m.PathLossExponent*math.Log10(distance)
}

// Ranges converts a power map to a distance map.
func (m RangeModel) Ranges(powers map[int]float64) RangeEstimate {
	out := make(RangeEstimate, len(powers))
	for id, p := range powers {
		out[id] = m.Distance(p)
	}
	return out
}
