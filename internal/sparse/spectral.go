package sparse

import (
	"math"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// SpectralEstimator turns a sweep into one amplitude spectral density vector
// using a Welch periodogram per depth bin and a max across depths.
type SpectralEstimator struct {
	nfft    int
	nperseg int
	fft     *fourier.FFT

	// windows caches periodic Hann windows and their power sum by length.
	windows map[int]hannWindow

	series []float64
	seg    []float64
	coeffs []complex128
	psd    []float64
	best   []float64
}

type hannWindow struct {
	w     []float64
	power float64 // sum of w^2
}

// NewSpectralEstimator returns an estimator with a transform length of nfft
// and a segment length of nfft/2.
func NewSpectralEstimator(nfft int) *SpectralEstimator {
	bins := nfft/2 + 1
	return &SpectralEstimator{
		nfft:    nfft,
		nperseg: nfft / 2,
		fft:     fourier.NewFFT(nfft),
		windows: make(map[int]hannWindow),
		seg:     make([]float64, nfft),
		coeffs:  make([]complex128, bins),
		psd:     make([]float64, bins),
		best:    make([]float64, bins),
	}
}

// NumBins returns the number of one-sided frequency bins.
func (e *SpectralEstimator) NumBins() int {
	return e.nfft/2 + 1
}

// periodicHann returns the DFT-even Hann window of length n. go-dsp only
// provides the symmetric form, so the periodic one is the first n points of
// the symmetric window of length n+1.
func (e *SpectralEstimator) periodicHann(n int) hannWindow {
	if hw, ok := e.windows[n]; ok {
		return hw
	}
	w := window.Hann(n + 1)[:n]
	hw := hannWindow{w: w, power: floats.Dot(w, w)}
	e.windows[n] = hw
	return hw
}

// welchSegments returns the segment length, hop and segment count for a
// series of n samples. Series shorter than nperseg use a single segment of
// their own length. Trailing samples that do not fill a segment are dropped.
func welchSegments(n, nperseg int) (segLen, step, count int) {
	segLen = min(nperseg, n)
	step = segLen - segLen/2
	count = (n-segLen)/step + 1
	return segLen, step, count
}

// Estimate computes the ASD of s into dst (grown if needed) and returns it.
func (e *SpectralEstimator) Estimate(s *Sweep, dst []float64) []float64 {
	bins := e.NumBins()
	if cap(dst) < bins {
		dst = make([]float64, bins)
	}
	dst = dst[:bins]

	n := s.Subsweeps()
	segLen, step, numSegs := welchSegments(n, e.nperseg)
	hw := e.periodicHann(segLen)

	for i := range e.best {
		e.best[i] = 0
	}

	for j := 0; j < s.Depths(); j++ {
		e.series = s.Depth(e.series, j)
		mean := floats.Sum(e.series) / float64(n)
		floats.AddConst(-mean, e.series)

		for i := range e.psd {
			e.psd[i] = 0
		}
		for k := 0; k < numSegs; k++ {
			start := k * step
			for i := range e.seg {
				e.seg[i] = 0
			}
			floats.MulTo(e.seg[:segLen], e.series[start:start+segLen], hw.w)
			e.coeffs = e.fft.Coefficients(e.coeffs, e.seg)
			for i, c := range e.coeffs {
				re, im := real(c), imag(c)
				e.psd[i] += re*re + im*im
			}
		}

		scale := 1 / (hw.power * float64(numSegs))
		for i := range e.psd {
			p := e.psd[i] * scale
			if i > 0 && i < bins-1 {
				p *= 2
			}
			if p > e.best[i] {
				e.best[i] = p
			}
		}
	}

	for i, p := range e.best {
		dst[i] = math.Sqrt(p)
	}
	return dst
}
