package render

import "math"

// SmoothMax tracks a display axis limit that jumps up to fit new peaks and
// relaxes slowly once the data has shrunk by more than the hysteresis band.
type SmoothMax struct {
	growSF     float64
	decaySF    float64
	hysteresis float64

	y      float64
	primed bool
}

// NewSmoothMax returns a tracker for updates at rate Hz. A zero time
// constant makes that direction immediate.
func NewSmoothMax(rate, tauDecay, tauGrow, hysteresis float64) *SmoothMax {
	return &SmoothMax{
		growSF:     smoothingFactor(tauGrow, rate),
		decaySF:    smoothingFactor(tauDecay, rate),
		hysteresis: hysteresis,
	}
}

func smoothingFactor(tau, rate float64) float64 {
	if tau <= 0 || rate <= 0 {
		return 0
	}
	return math.Exp(-1 / (tau * rate))
}

// Update folds in the latest maximum and returns the axis limit.
func (s *SmoothMax) Update(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return s.y
	}
	target := x * (1 + s.hysteresis)
	switch {
	case !s.primed:
		s.y, s.primed = target, true
	case target > s.y:
		s.y = s.growSF*s.y + (1-s.growSF)*target
	case x < s.y*(1-s.hysteresis):
		s.y = s.decaySF*s.y + (1-s.decaySF)*target
	}
	return s.y
}

// Value returns the current limit.
func (s *SmoothMax) Value() float64 { return s.y }
