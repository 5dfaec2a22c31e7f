// Package sensor talks to sparse radar sensors: session setup, streaming and
// decoding frames into sparse.Sweep values. It never retries; transport
// errors are returned to the session loop.
package sensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/sparse-speed/internal/sparse"
)

// SamplingMode selects the sparse service sampling scheme.
type SamplingMode string

const (
	SamplingModeA SamplingMode = "A"
	SamplingModeB SamplingMode = "B"
)

// BaseStepLength is the depth spacing of the sparse service at step size 1.
const BaseStepLength = 0.06 // m

var (
	// ErrBadFrame is returned for frames that cannot be decoded.
	ErrBadFrame = errors.New("malformed sensor frame")
	// ErrSessionNotReady is returned when streaming is attempted before a
	// session was set up, or when the sensor never reported one.
	ErrSessionNotReady = errors.New("sensor session not set up")
)

// Config is the sparse service configuration sent to the sensor.
type Config struct {
	Sensor                int          `json:"sensor"`
	RangeStart            float64      `json:"range_start_m"`
	RangeEnd              float64      `json:"range_end_m"`
	StepSize              int          `json:"stepsize"`
	SamplingMode          SamplingMode `json:"sampling_mode"`
	NumSubsweeps          int          `json:"number_of_subsweeps"`
	Gain                  float64      `json:"gain"`
	HWAverageSamples      int          `json:"hw_accelerated_average_samples"`
	SweepRate             float64      `json:"sweep_rate"`
	ExperimentalStitching bool         `json:"experimental_stitching"`
}

// DefaultConfig is a short range window at the highest frame rate, which
// gives the widest velocity span.
func DefaultConfig() Config {
	return Config{
		Sensor:                1,
		RangeStart:            0.30,
		RangeEnd:              0.48,
		StepSize:              3,
		SamplingMode:          SamplingModeA,
		NumSubsweeps:          sparse.DefaultNumFFTBins,
		Gain:                  0.5,
		HWAverageSamples:      60,
		SweepRate:             200,
		ExperimentalStitching: true,
	}
}

// Validate checks ranges the sensor would otherwise reject.
func (c Config) Validate() error {
	switch {
	case c.Sensor < 1:
		return fmt.Errorf("sensor index must be at least 1, got %d", c.Sensor)
	case c.RangeStart < 0 || c.RangeEnd <= c.RangeStart:
		return fmt.Errorf("invalid range interval [%g, %g]", c.RangeStart, c.RangeEnd)
	case c.StepSize < 1:
		return fmt.Errorf("stepsize must be positive, got %d", c.StepSize)
	case c.SamplingMode != SamplingModeA && c.SamplingMode != SamplingModeB:
		return fmt.Errorf("sampling mode must be A or B, got %q", c.SamplingMode)
	case c.NumSubsweeps < 4 || c.NumSubsweeps > math.MaxUint16:
		return fmt.Errorf("number of subsweeps must be between 4 and %d, got %d", math.MaxUint16, c.NumSubsweeps)
	case c.Gain < 0 || c.Gain > 1:
		return fmt.Errorf("gain must be between 0 and 1, got %g", c.Gain)
	case c.HWAverageSamples < 1 || c.HWAverageSamples > 63:
		return fmt.Errorf("hw accelerated average samples must be between 1 and 63, got %d", c.HWAverageSamples)
	case c.SweepRate < 0:
		return fmt.Errorf("sweep rate must be non-negative, got %g", c.SweepRate)
	}
	return nil
}

// ExpectedDepths is the number of depth bins the range interval yields. The
// sensor's session info is authoritative; this is for simulation and sanity
// checks.
func (c Config) ExpectedDepths() int {
	step := BaseStepLength * float64(max(c.StepSize, 1))
	return int(math.Floor((c.RangeEnd-c.RangeStart)/step+1e-9)) + 1
}

// Commands renders the configuration as UART command lines.
func (c Config) Commands() []string {
	return []string{
		fmt.Sprintf("CFG sensor=%d", c.Sensor),
		fmt.Sprintf("CFG range=%.3f:%.3f", c.RangeStart, c.RangeEnd),
		fmt.Sprintf("CFG stepsize=%d", c.StepSize),
		fmt.Sprintf("CFG sampling_mode=%s", c.SamplingMode),
		fmt.Sprintf("CFG subsweeps=%d", c.NumSubsweeps),
		fmt.Sprintf("CFG gain=%.3f", c.Gain),
		fmt.Sprintf("CFG hwaas=%d", c.HWAverageSamples),
		fmt.Sprintf("CFG sweep_rate=%g", c.SweepRate),
		fmt.Sprintf("CFG stitching=%t", c.ExperimentalStitching),
	}
}

// SessionInfo is what the sensor reports after a session is set up.
type SessionInfo struct {
	SubsweepRate float64 `json:"actual_subsweep_rate"`
	RangeStart   float64 `json:"actual_range_start"`
	RangeLength  float64 `json:"actual_range_length"`
	// DataLength is the number of samples in one frame.
	DataLength int `json:"data_length"`
}

// Depths derives the depth count for frames of numSubsweeps rows.
func (s SessionInfo) Depths(numSubsweeps int) (int, error) {
	if numSubsweeps <= 0 || s.DataLength <= 0 || s.DataLength%numSubsweeps != 0 {
		return 0, fmt.Errorf("data length %d is not a multiple of %d subsweeps", s.DataLength, numSubsweeps)
	}
	return s.DataLength / numSubsweeps, nil
}

// ProcessorSession builds the parameters a sparse.Processor is sized from.
func (s SessionInfo) ProcessorSession(cfg Config) (sparse.SessionParams, error) {
	if s.SubsweepRate <= 0 {
		return sparse.SessionParams{}, fmt.Errorf("sensor reported subsweep rate %g: %w", s.SubsweepRate, ErrSessionNotReady)
	}
	depths, err := s.Depths(cfg.NumSubsweeps)
	if err != nil {
		return sparse.SessionParams{}, err
	}
	return sparse.SessionParams{
		SubsweepRate: s.SubsweepRate,
		NumSubsweeps: cfg.NumSubsweeps,
		NumDepths:    depths,
	}, nil
}
