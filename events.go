// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"time"
)

// EventKind identifies the type of an Event.
type EventKind uint8

const (
	// EventStarted is reported once, when the worker starts.
	EventStarted EventKind = iota + 1
	// EventStopped is reported once, when the worker exits.
	EventStopped
	// EventAcceptError is reported when accept fails with anything other
	// than "would block". It ends the current drain pass only.
	EventAcceptError
	// EventPollError is reported when the readiness poll fails, other than
	// by interruption. The cycle continues, without a drain pass.
	EventPollError
	// EventCommandPanic is reported when ExecuteCommand panics. The command
	// is treated as OutcomeError.
	EventCommandPanic
	// EventPumpPanic is reported when the network I/O pump panics.
	EventPumpPanic
	// EventCycle is a periodic sample of the worker's timing and load.
	EventCycle
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventAcceptError:
		return "accept_error"
	case EventPollError:
		return "poll_error"
	case EventCommandPanic:
		return "command_panic"
	case EventPumpPanic:
		return "pump_panic"
	case EventCycle:
		return "cycle"
	default:
		return "unknown"
	}
}

// IsError returns true for kinds that indicate a failure.
func (k EventKind) IsError() bool {
	switch k {
	case EventAcceptError, EventPollError, EventCommandPanic, EventPumpPanic:
		return true
	default:
		return false
	}
}

// Event models a diagnostic event, emitted by the worker to a Reporter.
// Fields not relevant to the Kind are left as their zero value.
type Event struct {
	// Err is set for the error kinds.
	Err error
	// Duration is the measured duration of the cycle (EventCycle).
	Duration time.Duration
	// Carry is the busy time folded into the sample (EventCycle).
	Carry time.Duration
	// Tick is the tick being processed, when the event was emitted.
	Tick int64
	// Sample is the cycle's load sample (EventCycle).
	Sample float64
	// Load is the smoothed load, after applying Sample (EventCycle).
	Load float64
	// Commands is the number of commands executed during the cycle
	// (EventCycle).
	Commands int
	Kind     EventKind
}

// Reporter receives diagnostic events. Implementations must not block, and
// are called from the worker goroutine. Panics are recovered and discarded.
type Reporter interface {
	Report(event Event)
}

// ReporterFunc implements Reporter.
type ReporterFunc func(event Event)

// Report implements Reporter.
func (f ReporterFunc) Report(event Event) {
	f(event)
}

type noopReporter struct{}

func (noopReporter) Report(Event) {}
