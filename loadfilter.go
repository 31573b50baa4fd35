// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"fmt"
)

// DefaultLoadDecay is the smoothing factor used for the processor's load
// estimate. The effective averaging window is roughly 1/(1-decay) cycles.
const DefaultLoadDecay = 0.999

// LoadFilter is a single-pole exponential smoothing accumulator (a recursive
// low-pass filter) over a scalar sample.
//
// Each Apply computes:
//
//	value = decay*value + (1-decay)*sample
//
// LoadFilter is not safe for concurrent use. The Processor serializes access
// via its state lock.
type LoadFilter struct {
	// a is the weight of the new sample, i.e. 1-decay
	a float64
	// b is the weight of the previous value, i.e. decay
	b    float64
	last float64
}

// NewLoadFilter initializes a LoadFilter with the given decay, which must be
// in the open interval (0, 1), and initial value. A panic will occur if decay
// is out of range.
func NewLoadFilter(decay, initial float64) *LoadFilter {
	var f LoadFilter
	f.init(decay, initial)
	return &f
}

func (x *LoadFilter) init(decay, initial float64) {
	if !(decay > 0 && decay < 1) {
		panic(fmt.Errorf(`cmdasync: invalid load filter decay: %v`, decay))
	}
	x.a = 1 - decay
	x.b = decay
	x.last = initial
}

// Apply folds sample into the filter, returning the new value.
func (x *LoadFilter) Apply(sample float64) float64 {
	x.last = x.a*sample + x.b*x.last
	return x.last
}

// Value returns the current smoothed value, exactly as last written.
func (x *LoadFilter) Value() float64 {
	return x.last
}

// Decay returns the smoothing factor the filter was initialized with.
func (x *LoadFilter) Decay() float64 {
	return x.b
}
