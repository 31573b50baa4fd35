// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"time"
)

// Outcome is the result of executing a command, and controls whether a drain
// pass continues, in ModePersistent.
type Outcome int

const (
	// OutcomeContinue indicates the command was handled, and more commands
	// may be pending on the same descriptor.
	OutcomeContinue Outcome = iota
	// OutcomeTerminate indicates there is nothing more to do on the
	// descriptor, for this drain pass.
	OutcomeTerminate
	// OutcomeError indicates the command failed. The failure has already
	// been handled (e.g. an error reply written) by the CommandHandler.
	OutcomeError
)

const outcomeCount = int(OutcomeError) + 1

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeTerminate:
		return "terminate"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Command is an opaque command, produced by CommandHandler.FetchCommand.
type Command any

// CommandHandler parses and executes control commands. All methods are
// called from the worker goroutine.
type CommandHandler interface {
	// FetchCommand reads one pending command from fd, which must not block
	// indefinitely. The now value is the start time of the current cycle.
	// If there is no command, ok must be false, which ends the drain pass in
	// ModePersistent.
	FetchCommand(fd int, now time.Time) (cmd Command, ok bool)

	// ExecuteCommand executes a fetched command, while the global
	// serialization lock is held.
	ExecuteCommand(cmd Command) Outcome

	// DisposeCommand releases any resources held by a fetched command. It is
	// called after ExecuteCommand, once the lock has been released.
	DisposeCommand(cmd Command)
}

// Pump services the data plane's pending asynchronous I/O. It is called
// exactly once per cycle, and must not block.
type Pump interface {
	Pump()
}

// PumpFunc implements Pump.
type PumpFunc func()

// Pump implements Pump.
func (f PumpFunc) Pump() {
	f()
}

// Clock returns the current time. It must include a monotonic clock reading,
// as time.Now does, since only differences between readings are used.
type Clock func() time.Time
