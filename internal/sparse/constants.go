package sparse

import "time"

const (
	// HalfWavelength of the 60 GHz carrier, in metres.
	HalfWavelength = 2.445e-3

	DefaultNumFFTBins        = 512
	DefaultHistoryLength     = 2 * time.Second
	DefaultNumSavedSequences = 10
	DefaultSequenceTimeout   = 10
	DefaultNumNoiseBins      = 3
	DefaultNoiseTimeConstant = 1.0 // seconds
	DefaultMinThreshold      = 4.0
	DefaultDynamicThreshold  = 0.1
	DefaultMinSpeed          = 0.1 // m/s

	// SaturatedNASD is the normalised amplitude reported for a bin with
	// non-zero energy while the noise estimate is still zero.
	SaturatedNASD = 1e6

	// noiseEpsilon is the smallest noise estimate treated as non-zero.
	noiseEpsilon = 1e-12
)
