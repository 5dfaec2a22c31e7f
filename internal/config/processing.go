// Package config loads and validates the processing configuration.
//
// Every field is a pointer so that a file or a runtime patch may name only
// the fields it changes; the Get* accessors fall back to built-in defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/sparse-speed/internal/sparse"
	"github.com/banshee-data/sparse-speed/internal/units"
)

// DefaultConfigPath is the path to the canonical processing defaults file.
const DefaultConfigPath = "config/processing.defaults.json"

// MaxMinSpeed is the upper bound of the min_speed setting in m/s.
const MaxMinSpeed = 10.0

// ErrNotUpdateable is returned by Update when a patch touches a field that
// only takes effect when a session is created.
var ErrNotUpdateable = errors.New("field cannot be changed at runtime")

// ProcessingConfig is the root processing configuration. The same schema is
// used for the startup file and for runtime patches from the HTTP API.
type ProcessingConfig struct {
	// Runtime-updateable
	MinSpeed           *float64 `json:"min_speed,omitempty" yaml:"min_speed,omitempty"`
	ShownSpeedUnit     *string  `json:"shown_speed_unit,omitempty" yaml:"shown_speed_unit,omitempty"`
	ShowDataPlot       *bool    `json:"show_data_plot,omitempty" yaml:"show_data_plot,omitempty"`
	ShowSDPlot         *bool    `json:"show_sd_plot,omitempty" yaml:"show_sd_plot,omitempty"`
	ShowVelHistoryPlot *bool    `json:"show_vel_history_plot,omitempty" yaml:"show_vel_history_plot,omitempty"`

	// Session-time only
	NumFFTBins        *int     `json:"fft_bins,omitempty" yaml:"fft_bins,omitempty"`
	HistoryLength     *string  `json:"history_length,omitempty" yaml:"history_length,omitempty"` // duration string like "2s"
	SavedSequences    *int     `json:"saved_sequences,omitempty" yaml:"saved_sequences,omitempty"`
	SequenceTimeout   *int     `json:"sequence_timeout_frames,omitempty" yaml:"sequence_timeout_frames,omitempty"`
	NoiseBins         *int     `json:"noise_bins,omitempty" yaml:"noise_bins,omitempty"`
	NoiseTimeConstant *float64 `json:"noise_time_constant_s,omitempty" yaml:"noise_time_constant_s,omitempty"`
	MinThreshold      *float64 `json:"min_threshold,omitempty" yaml:"min_threshold,omitempty"`
	DynamicThreshold  *float64 `json:"dynamic_threshold,omitempty" yaml:"dynamic_threshold,omitempty"`
}

// Display is the resolved set of display toggles handed to renderers.
type Display struct {
	SpeedUnit          string `json:"shown_speed_unit"`
	ShowDataPlot       bool   `json:"show_data_plot"`
	ShowSDPlot         bool   `json:"show_sd_plot"`
	ShowVelHistoryPlot bool   `json:"show_vel_history_plot"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultProcessingConfig returns a config with every field set explicitly.
func DefaultProcessingConfig() *ProcessingConfig {
	p := sparse.DefaultParams()
	return &ProcessingConfig{
		MinSpeed:           ptrFloat64(p.MinSpeed),
		ShownSpeedUnit:     ptrString(units.MPS),
		ShowDataPlot:       ptrBool(false),
		ShowSDPlot:         ptrBool(true),
		ShowVelHistoryPlot: ptrBool(true),
		NumFFTBins:         ptrInt(p.NumFFTBins),
		HistoryLength:      ptrString(p.HistoryLength.String()),
		SavedSequences:     ptrInt(p.NumSavedSequences),
		SequenceTimeout:    ptrInt(p.SequenceTimeout),
		NoiseBins:          ptrInt(p.NumNoiseBins),
		NoiseTimeConstant:  ptrFloat64(p.NoiseTimeConstant),
		MinThreshold:       ptrFloat64(p.MinThreshold),
		DynamicThreshold:   ptrFloat64(p.DynamicThreshold),
	}
}

// LoadProcessingConfig reads a .json, .yaml or .yml file. Omitted fields keep
// their defaults through the Get* accessors.
func LoadProcessingConfig(path string) (*ProcessingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
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

	cfg := &ProcessingConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. It panics on failure and is meant for test setup.
func MustLoadDefaultConfig() *ProcessingConfig {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadProcessingConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *ProcessingConfig) Validate() error {
	if c.MinSpeed != nil && (*c.MinSpeed < 0 || *c.MinSpeed > MaxMinSpeed || math.IsNaN(*c.MinSpeed)) {
		return fmt.Errorf("min_speed must be between 0 and %g m/s, got %g", MaxMinSpeed, *c.MinSpeed)
	}
	if c.ShownSpeedUnit != nil && !units.IsValid(*c.ShownSpeedUnit) {
		return fmt.Errorf("shown_speed_unit must be one of %s, got %q", units.GetValidUnitsString(), *c.ShownSpeedUnit)
	}
	if c.NumFFTBins != nil && (*c.NumFFTBins < 4 || *c.NumFFTBins%2 != 0) {
		return fmt.Errorf("fft_bins must be even and at least 4, got %d", *c.NumFFTBins)
	}
	if c.HistoryLength != nil {
		d, err := time.ParseDuration(*c.HistoryLength)
		if err != nil {
			return fmt.Errorf("invalid history_length '%s': %w", *c.HistoryLength, err)
		}
		if d <= 0 {
			return fmt.Errorf("history_length must be positive, got %s", d)
		}
	}
	if c.SavedSequences != nil && *c.SavedSequences < 1 {
		return fmt.Errorf("saved_sequences must be positive, got %d", *c.SavedSequences)
	}
	if c.SequenceTimeout != nil && *c.SequenceTimeout < 0 {
		return fmt.Errorf("sequence_timeout_frames must be non-negative, got %d", *c.SequenceTimeout)
	}
	if c.NoiseBins != nil && *c.NoiseBins < 1 {
		return fmt.Errorf("noise_bins must be positive, got %d", *c.NoiseBins)
	}
	if c.MinThreshold != nil && *c.MinThreshold < 0 {
		return fmt.Errorf("min_threshold must be non-negative, got %g", *c.MinThreshold)
	}
	if c.DynamicThreshold != nil && (*c.DynamicThreshold < 0 || *c.DynamicThreshold > 1) {
		return fmt.Errorf("dynamic_threshold must be between 0 and 1, got %g", *c.DynamicThreshold)
	}
	return nil
}

// Clone returns a deep copy.
func (c *ProcessingConfig) Clone() *ProcessingConfig {
	out := &ProcessingConfig{}
	copyPtr(&out.MinSpeed, c.MinSpeed)
	copyPtr(&out.ShownSpeedUnit, c.ShownSpeedUnit)
	copyPtr(&out.ShowDataPlot, c.ShowDataPlot)
	copyPtr(&out.ShowSDPlot, c.ShowSDPlot)
	copyPtr(&out.ShowVelHistoryPlot, c.ShowVelHistoryPlot)
	copyPtr(&out.NumFFTBins, c.NumFFTBins)
	copyPtr(&out.HistoryLength, c.HistoryLength)
	copyPtr(&out.SavedSequences, c.SavedSequences)
	copyPtr(&out.SequenceTimeout, c.SequenceTimeout)
	copyPtr(&out.NoiseBins, c.NoiseBins)
	copyPtr(&out.NoiseTimeConstant, c.NoiseTimeConstant)
	copyPtr(&out.MinThreshold, c.MinThreshold)
	copyPtr(&out.DynamicThreshold, c.DynamicThreshold)
	return out
}

func copyPtr[T any](dst **T, src *T) {
	if src == nil {
		*dst = nil
		return
	}
	v := *src
	*dst = &v
}

// Update applies a runtime patch. Patches that name a session-time field fail
// with ErrNotUpdateable; invalid values fail validation. On error c is left
// unchanged.
func (c *ProcessingConfig) Update(patch *ProcessingConfig) error {
	var locked []string
	for name, set := range map[string]bool{
		"fft_bins":                patch.NumFFTBins != nil,
		"history_length":          patch.HistoryLength != nil,
		"saved_sequences":         patch.SavedSequences != nil,
		"sequence_timeout_frames": patch.SequenceTimeout != nil,
		"noise_bins":              patch.NoiseBins != nil,
		"noise_time_constant_s":   patch.NoiseTimeConstant != nil,
		"min_threshold":           patch.MinThreshold != nil,
		"dynamic_threshold":       patch.DynamicThreshold != nil,
	} {
		if set {
			locked = append(locked, name)
		}
	}
	if len(locked) > 0 {
		slices.Sort(locked)
		return fmt.Errorf("%s: %w", strings.Join(locked, ", "), ErrNotUpdateable)
	}
	if err := patch.Validate(); err != nil {
		return err
	}

	copyIfSet(&c.MinSpeed, patch.MinSpeed)
	copyIfSet(&c.ShownSpeedUnit, patch.ShownSpeedUnit)
	copyIfSet(&c.ShowDataPlot, patch.ShowDataPlot)
	copyIfSet(&c.ShowSDPlot, patch.ShowSDPlot)
	copyIfSet(&c.ShowVelHistoryPlot, patch.ShowVelHistoryPlot)
	return nil
}

func copyIfSet[T any](dst **T, src *T) {
	if src != nil {
		copyPtr(dst, src)
	}
}

// GetMinSpeed returns the min_speed value or the default.
func (c *ProcessingConfig) GetMinSpeed() float64 {
	if c.MinSpeed == nil {
		return sparse.DefaultMinSpeed
	}
	return *c.MinSpeed
}

// GetShownSpeedUnit returns the shown_speed_unit value or the default.
func (c *ProcessingConfig) GetShownSpeedUnit() string {
	if c.ShownSpeedUnit == nil {
		return units.MPS
	}
	return *c.ShownSpeedUnit
}

// GetShowDataPlot returns the show_data_plot value or the default.
func (c *ProcessingConfig) GetShowDataPlot() bool {
	if c.ShowDataPlot == nil {
		return false
	}
	return *c.ShowDataPlot
}

// GetShowSDPlot returns the show_sd_plot value or the default.
func (c *ProcessingConfig) GetShowSDPlot() bool {
	if c.ShowSDPlot == nil {
		return true
	}
	return *c.ShowSDPlot
}

// GetShowVelHistoryPlot returns the show_vel_history_plot value or the default.
func (c *ProcessingConfig) GetShowVelHistoryPlot() bool {
	if c.ShowVelHistoryPlot == nil {
		return true
	}
	return *c.ShowVelHistoryPlot
}

// GetHistoryLength parses and returns HistoryLength.
func (c *ProcessingConfig) GetHistoryLength() time.Duration {
	if c.HistoryLength == nil || *c.HistoryLength == "" {
		return sparse.DefaultHistoryLength
	}
	d, err := time.ParseDuration(*c.HistoryLength)
	if err != nil || d <= 0 {
		return sparse.DefaultHistoryLength
	}
	return d
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Display resolves the display toggles.
func (c *ProcessingConfig) Display() Display {
	return Display{
		SpeedUnit:          c.GetShownSpeedUnit(),
		ShowDataPlot:       c.GetShowDataPlot(),
		ShowSDPlot:         c.GetShowSDPlot(),
		ShowVelHistoryPlot: c.GetShowVelHistoryPlot(),
	}
}

// Params resolves the pipeline tuning.
func (c *ProcessingConfig) Params() sparse.Params {
	d := sparse.DefaultParams()
	return sparse.Params{
		NumFFTBins:        getInt(c.NumFFTBins, d.NumFFTBins),
		HistoryLength:     c.GetHistoryLength(),
		NumSavedSequences: getInt(c.SavedSequences, d.NumSavedSequences),
		SequenceTimeout:   getInt(c.SequenceTimeout, d.SequenceTimeout),
		NumNoiseBins:      getInt(c.NoiseBins, d.NumNoiseBins),
		NoiseTimeConstant: getFloat(c.NoiseTimeConstant, d.NoiseTimeConstant),
		MinThreshold:      getFloat(c.MinThreshold, d.MinThreshold),
		DynamicThreshold:  getFloat(c.DynamicThreshold, d.DynamicThreshold),
		MinSpeed:          c.GetMinSpeed(),
	}
}
