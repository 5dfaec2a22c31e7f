// Package units converts speeds between m/s and the display units offered to
// users. The processing pipeline works in m/s only.
package units

import (
	"fmt"
	"strings"
)

// Unit identifiers as they appear in configuration and query strings.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

type unitInfo struct {
	label  string
	factor float64 // display value per m/s
}

var table = map[string]unitInfo{
	MPS:  {"m/s", 1},
	MPH:  {"mph", 2.2369362920544},
	KMPH: {"km/h", 3.6},
	KPH:  {"km/h", 3.6},
}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	_, ok := table[unit]
	return ok
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Parse accepts a unit identifier or its display label ("m/s", "km/h") in any
// case and returns the identifier.
func Parse(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if IsValid(s) {
		return s, nil
	}
	for _, u := range ValidUnits {
		if table[u].label == s {
			return u, nil
		}
	}
	return "", fmt.Errorf("unknown speed unit %q, want one of: %s", s, GetValidUnitsString())
}

// Label returns the human readable suffix for unit, "m/s" if unknown.
func Label(unit string) string {
	if info, ok := table[unit]; ok {
		return info.label
	}
	return table[MPS].label
}

// Factor returns the multiplier from m/s to unit, 1 if unknown.
func Factor(unit string) float64 {
	if info, ok := table[unit]; ok {
		return info.factor
	}
	return 1
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units leave the value in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	return speedMPS * Factor(targetUnits)
}

// ConvertToMPS converts a speed in the given units back to meters per second.
func ConvertToMPS(speed float64, fromUnits string) float64 {
	return speed / Factor(fromUnits)
}
