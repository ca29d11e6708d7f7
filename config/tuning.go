package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"navengine-go/fusion"
)

// Defaults for the settings that live outside fusion.
const (
	DefaultGridSpacing   = 1.0
	DefaultConnectRadius = 1.5
	DefaultSampleQueue   = 16
)

// TuningConfig holds deployment tuning. Every field is optional; the Get*
// methods fall back to defaults for anything the JSON omits.
type TuningConfig struct {
	// Pipeline
	SmoothingEnabled *bool    `json:"smoothing_enabled,omitempty"`
	PositionStrategy *string  `json:"position_strategy,omitempty"` // "weighted_centroid" or "closest_pair"
	MinDistance      *float64 `json:"min_distance,omitempty"`
	MinEmitters      *int     `json:"min_emitters,omitempty"`
	RequireMinimum   *bool    `json:"require_minimum,omitempty"`
	MissingPower     *float64 `json:"missing_power,omitempty"`

	// Smoother
	KalmanQ            *float64 `json:"kalman_q,omitempty"`
	KalmanR            *float64 `json:"kalman_r,omitempty"`
	KalmanInitialError *float64 `json:"kalman_initial_error,omitempty"`

	// Path loss
	ReferencePower   *float64 `json:"reference_power,omitempty"`
	PathLossExponent *float64 `json:"path_loss_exponent,omitempty"`

	// Graph authoring
	GridSpacing   *float64 `json:"grid_spacing,omitempty"`
	ConnectRadius *float64 `json:"connect_radius,omitempty"`

	// Ingest
	SampleQueue *int `json:"sample_queue,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with every field unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		SmoothingEnabled:   ptrBool(true),
		PositionStrategy:   ptrString(fusion.WeightedCentroid.String()),
		MinDistance:        ptrFloat64(fusion.DefaultMinDistance),
		MinEmitters:        ptrInt(fusion.DefaultMinEmitters),
		RequireMinimum:     ptrBool(true),
		MissingPower:       ptrFloat64(fusion.DefaultMissingPower),
		KalmanQ:            ptrFloat64(fusion.DefaultKalmanQ),
		KalmanR:            ptrFloat64(fusion.DefaultKalmanR),
		KalmanInitialError: ptrFloat64(fusion.DefaultKalmanInitialError),
		ReferencePower:     ptrFloat64(fusion.DefaultReferencePower),
		PathLossExponent:   ptrFloat64(fusion.DefaultPathLossExponent),
		GridSpacing:        ptrFloat64(DefaultGridSpacing),
		ConnectRadius:      ptrFloat64(DefaultConnectRadius),
		SampleQueue:        ptrInt(DefaultSampleQueue),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields
// keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func positive(name string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v <= 0) {
		return fmt.Errorf("%s must be positive, got %v", name, *v)
	}
	return nil
}

func nonNegative(name string, v *float64) error {
	if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
		return fmt.Errorf("%s must be non-negative, got %v", name, *v)
	}
	return nil
}

// Validate checks that the configured values are usable.
func (c *TuningConfig) Validate() error {
	if c.PositionStrategy != nil {
		if _, err := fusion.ParseStrategy(*c.PositionStrategy); err != nil {
			return err
		}
	}
	for _, check := range []error{
		positive("kalman_r", c.KalmanR),
		nonNegative("kalman_q", c.KalmanQ),
		nonNegative("kalman_initial_error", c.KalmanInitialError),
		positive("path_loss_exponent", c.PathLossExponent),
		positive("min_distance", c.MinDistance),
		positive("grid_spacing", c.GridSpacing),
		nonNegative("connect_radius", c.ConnectRadius),
	} {
		if check != nil {
			return check
		}
	}
	if c.MinEmitters != nil && *c.MinEmitters < 1 {
		return fmt.Errorf("min_emitters must be at least 1, got %d", *c.MinEmitters)
	}
	if c.SampleQueue != nil && *c.SampleQueue < 1 {
		return fmt.Errorf("sample_queue must be at least 1, got %d", *c.SampleQueue)
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// GetSmoothingEnabled returns smoothing_enabled or true.
func (c *TuningConfig) GetSmoothingEnabled() bool {
	if c.SmoothingEnabled == nil {
		return true
	}
	return *c.SmoothingEnabled
}

// GetPositionStrategy returns the parsed strategy. Unparseable values fall
// back to the weighted centroid.
func (c *TuningConfig) GetPositionStrategy() fusion.Strategy {
	if c.PositionStrategy == nil {
		return fusion.WeightedCentroid
	}
	s, err := fusion.ParseStrategy(*c.PositionStrategy)
	if err != nil {
		return fusion.WeightedCentroid
	}
	return s
}

func (c *TuningConfig) GetMinDistance() float64 {
	return getFloat(c.MinDistance, fusion.DefaultMinDistance)
}

func (c *TuningConfig) GetMinEmitters() int {
	if c.MinEmitters == nil {
		return fusion.DefaultMinEmitters
	}
	return *c.MinEmitters
}

func (c *TuningConfig) GetRequireMinimum() bool {
	if c.RequireMinimum == nil {
		return true
	}
	return *c.RequireMinimum
}

func (c *TuningConfig) GetMissingPower() float64 {
	return getFloat(c.MissingPower, fusion.DefaultMissingPower)
}

func (c *TuningConfig) GetKalmanQ() float64 { return getFloat(c.KalmanQ, fusion.DefaultKalmanQ) }
func (c *TuningConfig) GetKalmanR() float64 { return getFloat(c.KalmanR, fusion.DefaultKalmanR) }

func (c *TuningConfig) GetKalmanInitialError() float64 {
	return getFloat(c.KalmanInitialError, fusion.DefaultKalmanInitialError)
}

func (c *TuningConfig) GetReferencePower() float64 {
	return getFloat(c.ReferencePower, fusion.DefaultReferencePower)
}

func (c *TuningConfig) GetPathLossExponent() float64 {
	return getFloat(c.PathLossExponent, fusion.DefaultPathLossExponent)
}

// GetGridSpacing returns the authoring grid pitch in metres.
func (c *TuningConfig) GetGridSpacing() float64 { return getFloat(c.GridSpacing, DefaultGridSpacing) }

// GetConnectRadius returns how far a new grid node reaches for neighbours.
func (c *TuningConfig) GetConnectRadius() float64 {
	return getFloat(c.ConnectRadius, DefaultConnectRadius)
}

// GetSampleQueue returns the ingest channel capacity.
func (c *TuningConfig) GetSampleQueue() int {
	if c.SampleQueue == nil {
		return DefaultSampleQueue
	}
	return *c.SampleQueue
}

// PipelineOptions converts the config into fusion pipeline options.
func (c *TuningConfig) PipelineOptions() fusion.Options {
	return fusion.Options{
		SmoothingEnabled: c.GetSmoothingEnabled(),
		Strategy:         c.GetPositionStrategy(),
		Kalman: fusion.KalmanParams{
			Q:            c.GetKalmanQ(),
			R:            c.GetKalmanR(),
			InitialError: c.GetKalmanInitialError(),
		},
		Range: fusion.RangeModel{
			ReferencePower:   c.GetReferencePower(),
			PathLossExponent: c.GetPathLossExponent(),
		},
		MinDistance:    c.GetMinDistance(),
		MinEmitters:    c.GetMinEmitters(),
		RequireMinimum: c.GetRequireMinimum(),
		MissingPower:   c.GetMissingPower(),
	}
}
