// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"sync/atomic"
)

// State represents the current state of the processor's worker.
//
// State Machine:
//
//	StateWaiting → StateRunning         [tick changed]
//	StateRunning → StateWaiting         [cycle complete]
//	StateWaiting → StateTerminating     [Shutdown()]
//	StateRunning → StateTerminating     [Shutdown()]
//	StateTerminating → StateTerminated  [worker exited]
//	StateTerminated → (terminal)
//
// A processor that was never started (failed New) has no observable state.
type State uint32

const (
	// StateWaiting indicates the worker is blocked, waiting for a tick.
	StateWaiting State = iota
	// StateRunning indicates the worker is executing a cycle.
	StateRunning
	// StateTerminating indicates shutdown has been requested, but the worker
	// has not yet exited.
	StateTerminating
	// StateTerminated indicates the worker has exited.
	StateTerminated
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// stateMachine is a lock-free state holder.
type stateMachine struct {
	v atomic.Uint32
}

func (s *stateMachine) Load() State {
	return State(s.v.Load())
}

// Store must only be used for the irreversible states.
func (s *stateMachine) Store(state State) {
	s.v.Store(uint32(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *stateMachine) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
