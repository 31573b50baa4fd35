// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

// readinessPoller checks a single descriptor for read readiness, without
// blocking. It is used only by the worker goroutine, except close, which is
// called once the worker has stopped, or during failed initialization.
type readinessPoller interface {
	// ready performs a zero-timeout poll, returning errInterrupted if the
	// poll was interrupted by a signal.
	ready() (bool, error)
	close() error
}
