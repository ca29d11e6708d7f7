package fusion

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownEmitter is returned for an emitter id the bank or pipeline was not built with.
var ErrUnknownEmitter = errors.New("unknown emitter")

// KalmanParams tunes the constant-position smoother.
// Q is process noise, R is measurement noise, InitialError seeds the covariance.
type KalmanParams struct {
	Q            float64 `json:"q"`
	R            float64 `json:"r"`
	InitialError float64 `json:"initial_error"`
}

// DefaultKalmanParams returns the stock smoother tuning.
func DefaultKalmanParams() KalmanParams {
	return KalmanParams{Q: DefaultKalmanQ, R: DefaultKalmanR, InitialError: DefaultKalmanInitialError}
}

// FilterState is the running estimate for one emitter.
type FilterState struct {
	Estimate        float64
	ErrorCovariance float64
}

// FilterBank smooths each emitter's power series independently.
// States are created lazily on the first reading of a registered id.
type FilterBank struct {
	params KalmanParams
	known  map[int]struct{}
	states map[int]*FilterState
}

// NewFilterBank creates a bank that accepts readings for the given emitter ids.
func NewFilterBank(ids []int, p KalmanParams) *FilterBank {
	known := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return &FilterBank{
		params: p,
		known:  known,
		states: make(map[int]*FilterState, len(ids)),
	}
}

// Params returns the bank's tuning.
func (b *FilterBank) Params() KalmanParams { return b.params }

// Update feeds one measurement for id and returns the smoothed estimate.
func (b *FilterBank) Update(id int, measurement float64) (float64, error) {
	if _, ok := b.known[id]; !ok {
		return 0, fmt.Errorf("filter update for emitter %d: %w", id, ErrUnknownEmitter)
	}
	return b.update(id, measurement), nil
}

func (b *FilterBank) update(id int, z float64) float64 {
	st, ok := b.states[id]
	if !ok {
		b.states[id] = &FilterState{Estimate: z, ErrorCovariance: b.params.InitialError}
		return z
	}
	pMinus := st.ErrorCovariance + b.params.Q
	k := pMinus / (pMinus + b.params.R)
	st.Estimate += k * (z - st.Estimate)
	st.ErrorCovariance = (1 - k) * pMinus
	return st.Estimate
}

// Smooth updates every id in batch and returns the smoothed values for exactly
// those ids. Ids missing from batch keep their state. An unknown id rejects the
// whole batch before any state changes.
func (b *FilterBank) Smooth(batch map[int]float64) (map[int]float64, error) {
	ids := make([]int, 0, len(batch))
	for id := range batch {
		if _, ok := b.known[id]; !ok {
			return nil, fmt.Errorf("filter batch: emitter %d: %w", id, ErrUnknownEmitter)
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make(map[int]float64, len(ids))
	for _, id := range ids {
		out[id] = b.update(id, batch[id])
	}
	return out, nil
}

// State returns a copy of the stored state for id.
func (b *FilterBank) State(id int) (FilterState, bool) {
	st, ok := b.states[id]
	if !ok {
		return FilterState{}, false
	}
	return *st, true
}

// Len returns the number of emitters with stored state.
func (b *FilterBank) Len() int { return len(b.states) }

// Reset drops all stored state. Registered ids are kept.
func (b *FilterBank) Reset() {
	b.states = make(map[int]*FilterState, len(b.known))
}
