package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty unit", "", false},
		{"uppercase MPS", "MPS", false}, // Case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidUnitsString(); got != "mps, mph, kmph, kph" {
		t.Errorf("GetValidUnitsString() = %q", got)
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		units    string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.369362920544},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units default to mps", 10.0, "unknown", 10.0},
		{"walking pace 1.4 m/s to mph", 1.4, MPH, 3.1317108088762},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPS, tt.units)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestConvertToMPS(t *testing.T) {
	tests := []struct {
		name     string
		speed    float64
		units    string
		expected float64
	}{
		{"36 km/h", 36, KMPH, 10},
		{"36 kph", 36, KPH, 10},
		{"mph", 22.369362920544, MPH, 10},
		{"mps", 4.2, MPS, 4.2},
		{"unknown", 4.2, "furlongs", 4.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertToMPS(tt.speed, tt.units)
			if math.Abs(result-tt.expected) > 1e-10 {
				t.Errorf("ConvertToMPS(%f, %s) = %f, want %f", tt.speed, tt.units, result, tt.expected)
			}
		})
	}
}

func TestRoundTripConversions(t *testing.T) {
	for _, u := range ValidUnits {
		for _, v := range []float64{0, 0.1, 2.5, 10} {
			got := ConvertToMPS(ConvertSpeed(v, u), u)
			if math.Abs(got-v) > 1e-10 {
				t.Errorf("round trip %v through %s = %v", v, u, got)
			}
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"mps", MPS, false},
		{"KMPH", KMPH, false},
		{" mph ", MPH, false},
		{"m/s", MPS, false},
		{"km/h", KMPH, false},
		{"knots", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	for unit, want := range map[string]string{MPS: "m/s", MPH: "mph", KMPH: "km/h", KPH: "km/h", "bogus": "m/s"} {
		if got := Label(unit); got != want {
			t.Errorf("Label(%q) = %q, want %q", unit, got, want)
		}
	}
}
