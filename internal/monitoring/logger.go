// Package monitoring holds process-wide diagnostics: the swappable logger
// and per-frame latency accounting.
package monitoring

import "log"

// Logf is the diagnostic logger used across the service. It defaults to
// log.Printf; tests swap it to capture or silence output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
