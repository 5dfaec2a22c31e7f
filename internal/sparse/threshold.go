package sparse

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// BinVelocities maps each one-sided FFT bin to a radial speed in m/s for a
// given subsweep rate.
func BinVelocities(nfft int, subsweepRate float64) []float64 {
	vs := make([]float64, nfft/2+1)
	for i := range vs {
		vs[i] = float64(i) / float64(nfft) * subsweepRate * HalfWavelength
	}
	return vs
}

// Normalize divides asd by the noise estimate into dst. While the noise
// estimate is zero, bins with energy saturate at SaturatedNASD and empty bins
// stay at zero, so no NaN or Inf ever reaches the threshold.
func Normalize(dst, asd []float64, noise float64) []float64 {
	if cap(dst) < len(asd) {
		dst = make([]float64, len(asd))
	}
	dst = dst[:len(asd)]
	if noise <= noiseEpsilon {
		for i, a := range asd {
			if a > 0 {
				dst[i] = SaturatedNASD
			} else {
				dst[i] = 0
			}
		}
		return dst
	}
	for i, a := range asd {
		dst[i] = a / noise
	}
	return dst
}

// Threshold returns max(minThreshold, dynamic * max(spectrum)).
func Threshold(spectrum []float64, minThreshold, dynamic float64) float64 {
	if len(spectrum) == 0 {
		return minThreshold
	}
	return math.Max(minThreshold, floats.Max(spectrum)*dynamic)
}

// Detection is the outcome of one frame of thresholding.
type Detection struct {
	// Bin is the winning frequency bin, or -1 when nothing crossed.
	Bin int
	// Velocity is the speed of Bin in m/s, NaN when there is no detection
	// or it was slower than the minimum speed.
	Velocity float64
	// Threshold is the instantaneous threshold used for this frame.
	Threshold float64
}

// ThresholdDetector normalises spectra, keeps their recent history and picks
// at most one velocity per frame.
type ThresholdDetector struct {
	minThreshold     float64
	dynamicThreshold float64
	minSpeed         float64
	binVelocities    []float64

	history     *SpectralHistory
	normalized  []float64
	temporalMax []float64
}

// NewThresholdDetector builds a detector for the given bin mapping and
// history length in frames.
func NewThresholdDetector(binVelocities []float64, historyFrames int, minThreshold, dynamicThreshold, minSpeed float64) *ThresholdDetector {
	bins := len(binVelocities)
	return &ThresholdDetector{
		minThreshold:     minThreshold,
		dynamicThreshold: dynamicThreshold,
		minSpeed:         minSpeed,
		binVelocities:    binVelocities,
		history:          NewSpectralHistory(historyFrames, bins),
		normalized:       make([]float64, bins),
		temporalMax:      make([]float64, bins),
	}
}

// SetMinSpeed changes the slow-motion cutoff from the next frame on.
func (d *ThresholdDetector) SetMinSpeed(v float64) { d.minSpeed = v }

// MinSpeed returns the slow-motion cutoff in m/s.
func (d *ThresholdDetector) MinSpeed() float64 { return d.minSpeed }

// Detect normalises asd by noise, records it in the history and returns the
// frame's detection.
func (d *ThresholdDetector) Detect(asd []float64, noise float64) Detection {
	d.normalized = Normalize(d.normalized, asd, noise)
	threshold := Threshold(d.normalized, d.minThreshold, d.dynamicThreshold)

	det := Detection{Bin: -1, Velocity: math.NaN(), Threshold: threshold}
	for i := len(d.normalized) - 1; i >= 0; i-- {
		if d.normalized[i] > threshold {
			det.Bin = i
			break
		}
	}
	// DC carries no motion information after mean removal.
	if det.Bin > 0 {
		v := d.binVelocities[det.Bin]
		if v >= d.minSpeed {
			det.Velocity = v
		}
	}

	d.history.Push(d.normalized)
	d.temporalMax = d.history.TemporalMax(d.temporalMax)
	return det
}

// Normalized returns the most recent noise-normalised spectrum. The slice is
// reused by the next Detect.
func (d *ThresholdDetector) Normalized() []float64 { return d.normalized }

// TemporalMax returns the per-bin maximum over the history. The slice is
// reused by the next Detect.
func (d *ThresholdDetector) TemporalMax() []float64 { return d.temporalMax }

// TemporalThreshold applies the threshold formula to the temporal maximum.
// It is for display only and never used for detection.
func (d *ThresholdDetector) TemporalThreshold() float64 {
	return Threshold(d.temporalMax, d.minThreshold, d.dynamicThreshold)
}
