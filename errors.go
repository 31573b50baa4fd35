// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrNilHandler is returned by New if Config.Handler is nil.
	ErrNilHandler = errors.New("cmdasync: nil command handler")

	// ErrInvalidTickFrequency is returned by New if Config.TickFrequency is
	// not a positive, finite number.
	ErrInvalidTickFrequency = errors.New("cmdasync: invalid tick frequency")

	// ErrInvalidFD is returned if a control descriptor is negative.
	ErrInvalidFD = errors.New("cmdasync: invalid control descriptor")

	// ErrInvalidMode is returned if a control channel mode is unknown.
	ErrInvalidMode = errors.New("cmdasync: invalid control channel mode")

	// ErrProcessorTerminated is returned by Shutdown once the processor has
	// been shut down.
	ErrProcessorTerminated = errors.New("cmdasync: processor has been terminated")

	// ErrReentrantShutdown is returned when Shutdown is called from the
	// worker goroutine, e.g. within CommandHandler.ExecuteCommand.
	ErrReentrantShutdown = errors.New("cmdasync: cannot shut down from within the worker")

	// errNoPending indicates there are no more pending connections, and is
	// the expected way a drain pass ends, in ModePerCommandAccept.
	errNoPending = errors.New("cmdasync: no pending connections")

	// errInterrupted indicates the readiness poll was interrupted by a signal.
	errInterrupted = errors.New("cmdasync: poll interrupted")
)

// InitError is returned by New, identifying which stage of initialization
// failed. All resources acquired by earlier stages are released before it is
// returned.
type InitError struct {
	Err   error
	Stage string
}

// Error implements the error interface.
func (e *InitError) Error() string {
	return fmt.Sprintf("cmdasync: init failed (%s): %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *InitError) Unwrap() error {
	return e.Err
}

// AcceptError is reported when accepting on the listening descriptor fails
// for any reason other than there being no pending connections.
type AcceptError struct {
	Err error
	FD  int
}

// Error implements the error interface.
func (e *AcceptError) Error() string {
	return fmt.Sprintf("cmdasync: can't accept connection on control socket %d: %v", e.FD, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *AcceptError) Unwrap() error {
	return e.Err
}

// PollError is reported when the readiness poll fails, other than by
// interruption.
type PollError struct {
	Err error
	FD  int
}

// Error implements the error interface.
func (e *PollError) Error() string {
	return fmt.Sprintf("cmdasync: readiness poll on control socket %d failed: %v", e.FD, e.Err)
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *PollError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking collaborator.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("cmdasync: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
