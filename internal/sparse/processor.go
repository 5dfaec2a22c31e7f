package sparse

import (
	"fmt"
	"math"
	"time"
)

// SessionParams are the facts about a running sensor session the pipeline is
// sized from. They do not change during a session.
type SessionParams struct {
	// SubsweepRate is the actual subsweep rate reported by the sensor, Hz.
	SubsweepRate float64
	// NumSubsweeps is the number of subsweeps per frame.
	NumSubsweeps int
	// NumDepths is the number of depth bins per subsweep. Zero accepts any.
	NumDepths int
}

// UpdateRate returns the frame rate in Hz.
func (s SessionParams) UpdateRate() float64 {
	if s.NumSubsweeps <= 0 {
		return 0
	}
	return s.SubsweepRate / float64(s.NumSubsweeps)
}

// Params holds the tuning of the pipeline. Only MinSpeed may change during a
// session; see Processor.SetMinSpeed.
type Params struct {
	NumFFTBins        int
	HistoryLength     time.Duration
	NumSavedSequences int
	SequenceTimeout   int // frames
	NumNoiseBins      int
	NoiseTimeConstant float64 // seconds
	MinThreshold      float64
	DynamicThreshold  float64
	MinSpeed          float64 // m/s
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		NumFFTBins:        DefaultNumFFTBins,
		HistoryLength:     DefaultHistoryLength,
		NumSavedSequences: DefaultNumSavedSequences,
		SequenceTimeout:   DefaultSequenceTimeout,
		NumNoiseBins:      DefaultNumNoiseBins,
		NoiseTimeConstant: DefaultNoiseTimeConstant,
		MinThreshold:      DefaultMinThreshold,
		DynamicThreshold:  DefaultDynamicThreshold,
		MinSpeed:          DefaultMinSpeed,
	}
}

// HistoryFrames converts a duration into a whole number of frames at rate Hz.
func HistoryFrames(d time.Duration, rate float64) int {
	return int(math.Round(rate * d.Seconds()))
}

func (p Params) validate() error {
	switch {
	case p.NumFFTBins < 4 || p.NumFFTBins%2 != 0:
		return fmt.Errorf("fft bins must be even and at least 4, got %d", p.NumFFTBins)
	case p.NumNoiseBins < 1 || p.NumNoiseBins > p.NumFFTBins/2+1:
		return fmt.Errorf("noise bins must be between 1 and %d, got %d", p.NumFFTBins/2+1, p.NumNoiseBins)
	case p.NumSavedSequences < 1:
		return fmt.Errorf("saved sequences must be positive, got %d", p.NumSavedSequences)
	case p.SequenceTimeout < 0:
		return fmt.Errorf("sequence timeout must be non-negative, got %d", p.SequenceTimeout)
	case p.MinThreshold < 0 || p.DynamicThreshold < 0:
		return fmt.Errorf("thresholds must be non-negative, got min=%g dynamic=%g", p.MinThreshold, p.DynamicThreshold)
	case p.MinSpeed < 0:
		return fmt.Errorf("min speed must be non-negative, got %g", p.MinSpeed)
	}
	return nil
}

// Result is the snapshot handed to consumers after each frame. Every slice is
// a fresh copy owned by the receiver; Sweep is the caller's frame and is
// shared, not copied. Undefined velocities are NaN.
type Result struct {
	Frame int64

	// Sweep is the input frame, passed through for display. Callers must not
	// reuse it for the next frame while results are still being consumed.
	Sweep *Sweep
	// SpectralDensity is the per-bin temporal maximum of the normalised ASD.
	SpectralDensity []float64
	// SpectralThreshold is the threshold formula applied to SpectralDensity.
	SpectralThreshold float64

	// Threshold is the instantaneous threshold used for detection.
	Threshold     float64
	NoiseEstimate float64
	// Instant is this frame's velocity estimate.
	Instant float64

	VelocityHistory []float64
	// Velocity is the best velocity currently visible in the history.
	Velocity float64

	SequenceVelocities    []float64
	BelongsToLastSequence []bool

	SequenceStarted bool
	SequenceEnded   *SequenceSummary
}

// HasVelocity reports whether any velocity is visible in the history.
func (r *Result) HasVelocity() bool { return !math.IsNaN(r.Velocity) }

// Processor runs the full per-frame pipeline. It is not safe for concurrent
// use; one acquisition loop owns it for the whole session.
type Processor struct {
	session       SessionParams
	params        Params
	updateRate    float64
	historyFrames int
	binVelocities []float64

	spectral  *SpectralEstimator
	noise     *NoiseFloorTracker
	detector  *ThresholdDetector
	sequences *SequenceTracker

	asd   []float64
	frame int64
}

// NewProcessor sizes all state for a session.
func NewProcessor(session SessionParams, params Params) (*Processor, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid processing params: %w", err)
	}
	if session.SubsweepRate <= 0 {
		return nil, fmt.Errorf("subsweep rate must be positive, got %g", session.SubsweepRate)
	}
	if session.NumSubsweeps < 4 {
		return nil, fmt.Errorf("need at least 4 subsweeps per frame, got %d", session.NumSubsweeps)
	}

	rate := session.UpdateRate()
	history := HistoryFrames(params.HistoryLength, rate)
	if history < 1 {
		return nil, fmt.Errorf("history of %v at %.3f Hz holds no frames", params.HistoryLength, rate)
	}

	vs := BinVelocities(params.NumFFTBins, session.SubsweepRate)
	return &Processor{
		session:       session,
		params:        params,
		updateRate:    rate,
		historyFrames: history,
		binVelocities: vs,
		spectral:      NewSpectralEstimator(params.NumFFTBins),
		noise:         NewNoiseFloorTracker(params.NumNoiseBins, params.NoiseTimeConstant, rate),
		detector:      NewThresholdDetector(vs, history, params.MinThreshold, params.DynamicThreshold, params.MinSpeed),
		sequences:     NewSequenceTracker(history, params.NumSavedSequences, params.SequenceTimeout),
		asd:           make([]float64, len(vs)),
	}, nil
}

// SetMinSpeed updates the minimum reported speed. It takes effect on the next
// frame and never rewrites history.
func (p *Processor) SetMinSpeed(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("min speed must be non-negative, got %g", v)
	}
	p.params.MinSpeed = v
	p.detector.SetMinSpeed(v)
	return nil
}

// Params returns the current tuning.
func (p *Processor) Params() Params { return p.params }

// Session returns the session the processor was sized for.
func (p *Processor) Session() SessionParams { return p.session }

// UpdateRate returns the frame rate in Hz.
func (p *Processor) UpdateRate() float64 { return p.updateRate }

// HistoryFrames returns the length of every history buffer.
func (p *Processor) HistoryFrames() int { return p.historyFrames }

// BinVelocities returns a copy of the bin to m/s mapping.
func (p *Processor) BinVelocities() []float64 {
	return append([]float64(nil), p.binVelocities...)
}

// Frames returns how many frames have been processed.
func (p *Processor) Frames() int64 { return p.frame }

// Process runs one frame through the pipeline. A shape mismatch returns an
// error and leaves all state untouched.
func (p *Processor) Process(s *Sweep) (*Result, error) {
	if s == nil || s.Dense == nil {
		return nil, fmt.Errorf("nil sweep: %w", ErrShapeMismatch)
	}
	if s.Subsweeps() != p.session.NumSubsweeps {
		return nil, fmt.Errorf("got %d subsweeps, want %d: %w", s.Subsweeps(), p.session.NumSubsweeps, ErrShapeMismatch)
	}
	if p.session.NumDepths > 0 && s.Depths() != p.session.NumDepths {
		return nil, fmt.Errorf("got %d depths, want %d: %w", s.Depths(), p.session.NumDepths, ErrShapeMismatch)
	}

	p.asd = p.spectral.Estimate(s, p.asd)
	noise := p.noise.Update(p.asd)
	det := p.detector.Detect(p.asd, noise)
	tr := p.sequences.Update(det.Velocity)

	res := &Result{
		Frame:                 p.frame,
		Sweep:                 s,
		SpectralDensity:       append([]float64(nil), p.detector.TemporalMax()...),
		SpectralThreshold:     p.detector.TemporalThreshold(),
		Threshold:             det.Threshold,
		NoiseEstimate:         noise,
		Instant:               det.Velocity,
		VelocityHistory:       p.sequences.Velocities(nil),
		Velocity:              p.sequences.BestVelocity(),
		SequenceVelocities:    p.sequences.Ledger(nil),
		BelongsToLastSequence: p.sequences.Membership(nil),
		SequenceStarted:       tr.Started,
		SequenceEnded:         tr.Ended,
	}
	p.frame++
	return res, nil
}

// Flush closes any open sequence at session end.
func (p *Processor) Flush() *SequenceSummary {
	return p.sequences.Flush()
}
