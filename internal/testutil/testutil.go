// Package testutil provides shared test helpers and synthetic sensor data.
//
// The sweep generators return raw row-major sample slices (subsweeps x
// depths) rather than sparse.Sweep values so that the sparse package's own
// tests can use them without an import cycle.
package testutil

import (
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// SynthSweep describes a synthetic frame: an optional sinusoidal reflector in
// one depth bin on top of gaussian noise in every bin.
type SynthSweep struct {
	Subsweeps    int
	Depths       int
	SubsweepRate float64 // Hz

	ToneDepth     int     // depth bin carrying the reflector
	ToneHz        float64 // zero disables the reflector
	ToneAmplitude float64
	Phase         float64 // radians, lets consecutive frames stay continuous

	NoiseStdDev float64
	Offset      float64 // static DC level, removed by the estimator
}

// SweepData renders synth into a row-major slice using rng for noise.
func SweepData(synth SynthSweep, rng *rand.Rand) []float64 {
	data := make([]float64, synth.Subsweeps*synth.Depths)
	for i := 0; i < synth.Subsweeps; i++ {
		t := float64(i) / synth.SubsweepRate
		for j := 0; j < synth.Depths; j++ {
			v := synth.Offset
			if synth.NoiseStdDev > 0 && rng != nil {
				v += rng.NormFloat64() * synth.NoiseStdDev
			}
			if synth.ToneHz > 0 && j == synth.ToneDepth {
				v += synth.ToneAmplitude * math.Sin(2*math.Pi*synth.ToneHz*t+synth.Phase)
			}
			data[i*synth.Depths+j] = v
		}
	}
	return data
}

// BinFrequency returns the centre frequency of one-sided bin i for an FFT of
// length nfft at the given sample rate.
func BinFrequency(i, nfft int, rate float64) float64 {
	return float64(i) / float64(nfft) * rate
}
