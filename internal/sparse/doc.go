// Package sparse owns the per-frame speed estimation pipeline for sparse radar
// sweeps.
//
// Responsibilities: spectral estimation of amplitude modulation, noise-floor
// tracking, dynamic-threshold detection mapped to radial velocity, and
// segmentation of detections into sequences with a fixed-size ledger.
// Key types: Sweep, Processor, Result, Ring.
//
// Dependency rule: no I/O, no goroutines and no locks live in this package.
// A Processor is owned by exactly one acquisition loop for the length of a
// session; callers that share results across goroutines copy them first
// (Result is already a copy).
package sparse
