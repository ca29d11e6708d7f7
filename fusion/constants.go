package fusion

// Default tuning. Every value can be overridden through config.TuningConfig.
const (
	// Kalman smoother priors.
	DefaultKalmanQ            = 0.5
	DefaultKalmanR            = 2.0
	DefaultKalmanInitialError = 5.0

	// Log-distance path-loss model: received power at 1 m and exponent.
	DefaultReferencePower   = -59.0
	DefaultPathLossExponent = 2.0

	// Near-field floor for inverse-distance weights, metres.
	DefaultMinDistance = 0.1

	// Power assumed for an emitter missing from a scan, dBm.
	DefaultMissingPower = -100.0

	// Recommended emitter count for a full-confidence 2-D fix.
	DefaultMinEmitters = 3

	// Closest-pair midpoint needs two emitters.
	minPairEmitters = 2
)
