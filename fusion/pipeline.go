package fusion

import (
	"errors"
	"fmt"
	"sort"

	"navengine-go/logging"
)

// ErrDuplicateEmitter is returned when two emitters share an id or a label.
var ErrDuplicateEmitter = errors.New("duplicate emitter")

// Options configures a Pipeline.
type Options struct {
	SmoothingEnabled bool         `json:"smoothing_enabled"`
	Strategy         Strategy     `json:"position_strategy"`
	Kalman           KalmanParams `json:"kalman"`
	Range            RangeModel   `json:"range"`
	MinDistance      float64      `json:"min_distance"`
	MinEmitters      int          `json:"min_emitters"`
	// RequireMinimum turns below-minimum centroid fixes into NoEstimate.
	RequireMinimum bool `json:"require_minimum"`
	// MissingPower fills emitters absent from a scan, dBm.
	MissingPower float64 `json:"missing_power"`
}

// DefaultOptions returns smoothing on, weighted centroid, 3-emitter minimum enforced.
func DefaultOptions() Options {
	return Options{
		SmoothingEnabled: true,
		Strategy:         WeightedCentroid,
		Kalman:           DefaultKalmanParams(),
		Range:            DefaultRangeModel(),
		MinDistance:      DefaultMinDistance,
		MinEmitters:      DefaultMinEmitters,
		RequireMinimum:   true,
		MissingPower:     DefaultMissingPower,
	}
}

// Cycle is everything computed for one scan.
type Cycle struct {
	// Powers covers every known emitter; absent ones carry MissingPower.
	Powers map[int]float64 `json:"powers"`
	// Smoothed equals Powers when smoothing is disabled.
	Smoothed map[int]float64 `json:"smoothed"`
	// Observed lists the emitter ids reported by this scan, ascending.
	Observed []int `json:"observed"`
	// Ranges only holds observed emitters.
	Ranges RangeEstimate `json:"ranges"`
	Fix    Fix           `json:"fix"`
	// Unmatched lists scan labels that belong to no emitter, sorted.
	Unmatched []string `json:"unmatched,omitempty"`
}

// Pipeline runs one scan through translation, smoothing, ranging and
// estimation. It owns the filter bank and is not safe for concurrent use.
type Pipeline struct {
	emitters  []Emitter
	byLabel   map[string]int
	bank      *FilterBank
	opts      Options
	estimator Estimator
}

// NewPipeline builds a pipeline for the given emitter set.
func NewPipeline(emitters []Emitter, opts Options) (*Pipeline, error) {
	sorted := append([]Emitter(nil), emitters...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byLabel := make(map[string]int, len(sorted))
	ids := make([]int, 0, len(sorted))
	seen := make(map[int]bool, len(sorted))
	for _, e := range sorted {
		if seen[e.ID] {
			return nil, fmt.Errorf("emitter id %d: %w", e.ID, ErrDuplicateEmitter)
		}
		if _, dup := byLabel[e.Label]; dup {
			return nil, fmt.Errorf("emitter label %q: %w", e.Label, ErrDuplicateEmitter)
		}
		seen[e.ID] = true
		byLabel[e.Label] = e.ID
		ids = append(ids, e.ID)
	}

	return &Pipeline{
		emitters: sorted,
		byLabel:  byLabel,
		bank:     NewFilterBank(ids, opts.Kalman),
		opts:     opts,
		estimator: Estimator{
			Strategy:       opts.Strategy,
			MinDistance:    opts.MinDistance,
			MinEmitters:    opts.MinEmitters,
			RequireMinimum: opts.RequireMinimum,
		},
	}, nil
}

// Emitters returns the emitter set in id order.
func (p *Pipeline) Emitters() []Emitter { return p.emitters }

// Options returns the pipeline configuration.
func (p *Pipeline) Options() Options { return p.opts }

// Bank exposes the filter bank for inspection.
func (p *Pipeline) Bank() *FilterBank { return p.bank }

// Translate maps a label-keyed scan onto the full emitter id set. Absent
// emitters get MissingPower. The observed ids and unmatched labels are
// returned sorted.
func (p *Pipeline) Translate(sample RawSample) (powers map[int]float64, observed []int, unmatched []string) {
	powers = make(map[int]float64, len(p.emitters))
	for _, e := range p.emitters {
		powers[e.ID] = p.opts.MissingPower
	}
	for label, dbm := range sample {
		id, ok := p.byLabel[label]
		if !ok {
			unmatched = append(unmatched, label)
			continue
		}
		powers[id] = dbm
		observed = append(observed, id)
	}
	sort.Ints(observed)
	sort.Strings(unmatched)
	return powers, observed, unmatched
}

// Process runs one scan cycle.
func (p *Pipeline) Process(sample RawSample) Cycle {
	powers, observed, unmatched := p.Translate(sample)

	smoothed := powers
	if p.opts.SmoothingEnabled {
		out, err := p.bank.Smooth(powers)
		if err != nil {
			logging.Opsf("smoothing skipped: %v", err)
		} else {
			smoothed = out
		}
	}

	ranges := make(RangeEstimate, len(observed))
	for _, id := range observed {
		ranges[id] = p.opts.Range.Distance(smoothed[id])
	}

	return Cycle{
		Powers:    powers,
		Smoothed:  smoothed,
		Observed:  observed,
		Ranges:    ranges,
		Fix:       p.estimator.Estimate(p.emitters, ranges),
		Unmatched: unmatched,
	}
}

// Reset clears the smoother state.
func (p *Pipeline) Reset() { p.bank.Reset() }
