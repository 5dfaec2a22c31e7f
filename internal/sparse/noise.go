package sparse

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TimeConstantToSF converts a time constant in seconds at an update rate in Hz
// into an exponential smoothing factor. Non-positive time constants disable
// smoothing.
func TimeConstantToSF(tc, rate float64) float64 {
	if tc <= 0 || rate <= 0 {
		return 0
	}
	return math.Exp(-1 / (tc * rate))
}

// NoiseFloorTracker smooths the mean of the highest-frequency ASD bins across
// frames. Early frames are weighted more heavily so the estimate does not
// ramp up slowly from zero.
type NoiseFloorTracker struct {
	numBins  int
	staticSF float64

	estimate float64
	updates  int
}

// NewNoiseFloorTracker returns a tracker averaging the top numBins bins with
// time constant tc seconds at the given frame rate.
func NewNoiseFloorTracker(numBins int, tc, rate float64) *NoiseFloorTracker {
	if numBins < 1 {
		numBins = 1
	}
	return &NoiseFloorTracker{
		numBins:  numBins,
		staticSF: TimeConstantToSF(tc, rate),
	}
}

// SmoothingFactor returns the factor the next Update will use.
func (t *NoiseFloorTracker) SmoothingFactor() float64 {
	return math.Min(t.staticSF, 1-1/(1+float64(t.updates)))
}

// Update folds the noise bins of asd into the estimate and returns it.
func (t *NoiseFloorTracker) Update(asd []float64) float64 {
	k := min(t.numBins, len(asd))
	if k == 0 {
		return t.estimate
	}
	inst := stat.Mean(asd[len(asd)-k:], nil)
	sf := t.SmoothingFactor()
	t.estimate = sf*t.estimate + (1-sf)*inst
	if t.estimate < 0 || math.IsNaN(t.estimate) {
		t.estimate = 0
	}
	t.updates++
	return t.estimate
}

// Estimate returns the current noise floor.
func (t *NoiseFloorTracker) Estimate() float64 {
	return t.estimate
}

// Updates returns how many frames have been folded in.
func (t *NoiseFloorTracker) Updates() int {
	return t.updates
}
