// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"sync"
	"time"
)

// tickState is the monitor guarding the tick counter, the busy time carry,
// and the load filter. These fields are only ever accessed together, under
// mu, via the methods below.
type tickState struct {
	mu   sync.Mutex
	cond sync.Cond

	filter LoadFilter

	// tick is the most recently published tick
	tick int64
	// observed is the tick value most recently consumed by waitForChange
	observed int64
	// carry is busy time folded into the next load sample
	carry time.Duration

	peak      float64
	coalesced uint64
	stopping  bool
}

func (x *tickState) init(decay float64) {
	x.cond.L = &x.mu
	x.filter.init(decay, 0)
}

// publish stores tick, resets the carry, and wakes the worker, returning the
// previously stored tick. If the previous tick was never observed by the
// worker, it is lost (coalesced), and coalesced will be true.
func (x *tickState) publish(tick int64) (previous int64, coalesced bool) {
	x.mu.Lock()
	previous = x.tick
	if previous != x.observed && tick != previous {
		coalesced = true
		x.coalesced++
	}
	x.tick = tick
	x.carry = 0
	x.cond.Signal()
	x.mu.Unlock()
	return previous, coalesced
}

// addBusy accumulates busy time, to be folded into the next load sample.
func (x *tickState) addBusy(d time.Duration) {
	x.mu.Lock()
	x.carry += d
	x.mu.Unlock()
}

// waitForChange blocks until the tick differs from the last observed value,
// or stop has been called, returning the new tick and carry as a unit. The
// ok value will be false if stopping, in which case the worker must exit.
func (x *tickState) waitForChange() (tick int64, carry time.Duration, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for x.tick == x.observed && !x.stopping {
		x.cond.Wait()
	}
	if x.stopping {
		return x.observed, 0, false
	}
	x.observed = x.tick
	return x.tick, x.carry, true
}

// apply folds a load sample into the filter, returning the new value, and the
// highest value seen so far.
func (x *tickState) apply(sample float64) (load, peak float64) {
	x.mu.Lock()
	load = x.filter.Apply(sample)
	if load > x.peak {
		x.peak = load
	}
	peak = x.peak
	x.mu.Unlock()
	return load, peak
}

func (x *tickState) load() float64 {
	x.mu.Lock()
	v := x.filter.Value()
	x.mu.Unlock()
	return v
}

// stop causes any current or future waitForChange to return !ok.
func (x *tickState) stop() {
	x.mu.Lock()
	x.stopping = true
	x.cond.Broadcast()
	x.mu.Unlock()
}

type tickSnapshot struct {
	tick      int64
	carry     time.Duration
	load      float64
	peak      float64
	coalesced uint64
}

func (x *tickState) snapshot() (s tickSnapshot) {
	x.mu.Lock()
	s = tickSnapshot{
		tick:      x.tick,
		carry:     x.carry,
		load:      x.filter.Value(),
		peak:      x.peak,
		coalesced: x.coalesced,
	}
	x.mu.Unlock()
	return s
}
