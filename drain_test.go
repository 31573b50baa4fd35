// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package cmdasync

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// queuedAccepts returns an accept func yielding each of conns, then EAGAIN.
func queuedAccepts(conns ...int) func(int) (int, error) {
	var mu sync.Mutex
	return func(int) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(conns) == 0 {
			return -1, unix.EAGAIN
		}
		conn := conns[0]
		conns = conns[1:]
		return conn, nil
	}
}

type closeRecorder struct {
	mu     sync.Mutex
	closed []int
}

func (x *closeRecorder) close(fd int) error {
	x.mu.Lock()
	x.closed = append(x.closed, fd)
	x.mu.Unlock()
	return nil
}

// checkedLocker tracks whether it is held.
type checkedLocker struct {
	mu   sync.Mutex
	held bool
	n    int
}

func (x *checkedLocker) Lock() {
	x.mu.Lock()
	x.held = true
	x.n++
}

func (x *checkedLocker) Unlock() {
	x.held = false
	x.mu.Unlock()
}

func TestDrainPass_accept_untilWouldBlock(t *testing.T) {
	closer := new(closeRecorder)
	lock := new(checkedLocker)
	handler := &mockHandler{
		fetch: func(fd int, _ time.Time) (Command, bool) { return fd, true },
		execute: func(cmd Command) Outcome {
			if !lock.held {
				t.Error("lock not held during execute")
			}
			return OutcomeTerminate
		},
		dispose: func(Command) {
			if lock.held {
				t.Error("lock held during dispose")
			}
		},
	}
	var events eventRecorder
	x := drainPass{
		channel: &acceptChannel{fd: 9, accept: queuedAccepts(100, 101, 102), close: closer.close},
		handler: handler,
		lock:    lock,
		report:  events.Report,
	}

	stats := x.run(1, time.Now())

	assert.Equal(t, 3, stats.accepted)
	assert.Equal(t, 3, stats.commands())
	assert.Equal(t, 3, stats.outcomes[OutcomeTerminate])
	assert.NoError(t, stats.acceptErr)
	assert.Equal(t, []int{100, 101, 102}, closer.closed)
	assert.Equal(t, []Command{100, 101, 102}, handler.executed)
	assert.Equal(t, []Command{100, 101, 102}, handler.disposed)
	assert.Equal(t, 3, lock.n)
	assert.Empty(t, events.kinds())
}

func TestDrainPass_accept_continuesAfterFailedCommand(t *testing.T) {
	closer := new(closeRecorder)
	handler := &mockHandler{
		fetch: func(fd int, _ time.Time) (Command, bool) { return fd, fd != 101 },
		execute: func(cmd Command) Outcome {
			if cmd == 100 {
				return OutcomeError
			}
			return OutcomeContinue
		},
	}
	x := drainPass{
		channel: &acceptChannel{fd: 9, accept: queuedAccepts(100, 101, 102), close: closer.close},
		handler: handler,
		lock:    new(sync.Mutex),
		report:  func(Event) {},
	}

	stats := x.run(1, time.Now())

	assert.Equal(t, 3, stats.accepted)
	assert.Equal(t, [outcomeCount]int{OutcomeContinue: 1, OutcomeError: 1}, stats.outcomes)
	assert.Equal(t, []int{100, 101, 102}, closer.closed)
}

func TestDrainPass_accept_error(t *testing.T) {
	var events eventRecorder
	accepts := 0
	x := drainPass{
		channel: &acceptChannel{
			fd: 9,
			accept: func(int) (int, error) {
				accepts++
				return -1, unix.EMFILE
			},
			close: closeFD,
		},
		handler: new(mockHandler),
		lock:    new(sync.Mutex),
		report:  events.Report,
	}

	stats := x.run(5, time.Now())

	assert.Equal(t, 1, accepts)
	assert.Zero(t, stats.accepted)
	var acceptErr *AcceptError
	require.ErrorAs(t, stats.acceptErr, &acceptErr)
	assert.Equal(t, 9, acceptErr.FD)
	assert.ErrorIs(t, stats.acceptErr, unix.EMFILE)

	event, ok := events.find(EventAcceptError)
	require.True(t, ok)
	assert.Equal(t, int64(5), event.Tick)
	assert.Same(t, stats.acceptErr, event.Err)
}

func TestDrainPass_persistent_untilNotContinue(t *testing.T) {
	outcomes := []Outcome{OutcomeContinue, OutcomeContinue, OutcomeTerminate, OutcomeContinue}
	var n int
	handler := &mockHandler{
		fetch: func(fd int, _ time.Time) (Command, bool) {
			n++
			return n, true
		},
		execute: func(cmd Command) Outcome { return outcomes[cmd.(int)-1] },
	}
	x := drainPass{
		channel: &persistentChannel{fd: 4},
		handler: handler,
		lock:    new(sync.Mutex),
		report:  func(Event) {},
	}

	stats := x.run(1, time.Now())

	assert.Zero(t, stats.accepted)
	assert.Equal(t, 3, stats.commands())
	assert.Equal(t, []int{4, 4, 4}, handler.fetched)
	assert.Equal(t, []Command{1, 2, 3}, handler.disposed)
}

func TestDrainPass_persistent_noCommand(t *testing.T) {
	handler := new(mockHandler)
	x := drainPass{
		channel: &persistentChannel{fd: 4},
		handler: handler,
		lock:    new(sync.Mutex),
		report:  func(Event) {},
	}

	stats := x.run(1, time.Now())

	assert.Zero(t, stats.commands())
	fetched, executed, disposed := handler.counts()
	assert.Equal(t, 1, fetched)
	assert.Zero(t, executed)
	assert.Zero(t, disposed)
}

func TestDrainPass_executePanic(t *testing.T) {
	lock := new(sync.Mutex)
	var events eventRecorder
	handler := &mockHandler{
		fetch:   func(fd int, _ time.Time) (Command, bool) { return `cmd`, true },
		execute: func(Command) Outcome { panic(errors.New(`some panic`)) },
	}
	x := drainPass{
		channel: &persistentChannel{fd: 4},
		handler: handler,
		lock:    lock,
		report:  events.Report,
	}

	stats := x.run(3, time.Now())

	assert.Equal(t, 1, stats.outcomes[OutcomeError])
	assert.Equal(t, []Command{`cmd`}, handler.disposed)
	require.True(t, lock.TryLock(), "lock must be released after a panic")
	lock.Unlock()

	event, ok := events.find(EventCommandPanic)
	require.True(t, ok)
	var panicErr *PanicError
	require.ErrorAs(t, event.Err, &panicErr)
	assert.EqualError(t, panicErr.Unwrap(), `some panic`)
	assert.NotEmpty(t, panicErr.Stack)
}

func TestDrainPass_unknownOutcome(t *testing.T) {
	handler := &mockHandler{
		fetch:   func(fd int, _ time.Time) (Command, bool) { return 1, true },
		execute: func(Command) Outcome { return Outcome(42) },
	}
	x := drainPass{
		channel: &persistentChannel{fd: 4},
		handler: handler,
		lock:    new(sync.Mutex),
		report:  func(Event) {},
	}

	stats := x.run(1, time.Now())

	assert.Equal(t, 1, stats.outcomes[OutcomeError])
	assert.Equal(t, 1, stats.commands())
}
