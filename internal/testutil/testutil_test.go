package testutil

import (
	"math"
	"math/rand"
	"net/http"
	"testing"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertStatusCode(t, http.StatusNotFound, http.StatusNotFound)
}

func TestAssertNoError(t *testing.T) {
	t.Parallel()
	AssertNoError(t, nil)
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()
	req := NewTestRequest(http.MethodGet, "/api/speed")
	if req.Method != http.MethodGet || req.URL.Path != "/api/speed" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if rec := NewTestRecorder(); rec == nil {
		t.Fatal("NewTestRecorder returned nil")
	}
}

func TestSweepData_Shape(t *testing.T) {
	t.Parallel()
	data := SweepData(SynthSweep{Subsweeps: 8, Depths: 3, SubsweepRate: 100}, nil)
	if len(data) != 24 {
		t.Fatalf("len = %d, want 24", len(data))
	}
	for i, v := range data {
		if v != 0 {
			t.Fatalf("data[%d] = %v, want 0 with no tone and no noise", i, v)
		}
	}
}

func TestSweepData_ToneOnlyInItsDepth(t *testing.T) {
	t.Parallel()
	synth := SynthSweep{
		Subsweeps: 16, Depths: 4, SubsweepRate: 16,
		ToneDepth: 2, ToneHz: 4, ToneAmplitude: 1,
	}
	data := SweepData(synth, rand.New(rand.NewSource(1)))
	for i := 0; i < synth.Subsweeps; i++ {
		for j := 0; j < synth.Depths; j++ {
			v := data[i*synth.Depths+j]
			if j != 2 && v != 0 {
				t.Fatalf("depth %d has energy %v", j, v)
			}
		}
	}
	// quarter-rate tone: sample 1 sits on the sine peak
	if got := data[1*synth.Depths+2]; math.Abs(got-1) > 1e-9 {
		t.Errorf("peak sample = %v, want 1", got)
	}
}

func TestBinFrequency(t *testing.T) {
	t.Parallel()
	if got := BinFrequency(128, 512, 1000); got != 250 {
		t.Errorf("BinFrequency = %v, want 250", got)
	}
}
