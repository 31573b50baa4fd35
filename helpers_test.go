// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockHandler struct {
	fetch   func(fd int, now time.Time) (Command, bool)
	execute func(cmd Command) Outcome
	dispose func(cmd Command)

	mu       sync.Mutex
	fetched  []int
	executed []Command
	disposed []Command
}

func (x *mockHandler) FetchCommand(fd int, now time.Time) (Command, bool) {
	x.mu.Lock()
	x.fetched = append(x.fetched, fd)
	x.mu.Unlock()
	if x.fetch == nil {
		return nil, false
	}
	return x.fetch(fd, now)
}

func (x *mockHandler) ExecuteCommand(cmd Command) Outcome {
	x.mu.Lock()
	x.executed = append(x.executed, cmd)
	x.mu.Unlock()
	if x.execute == nil {
		return OutcomeTerminate
	}
	return x.execute(cmd)
}

func (x *mockHandler) DisposeCommand(cmd Command) {
	x.mu.Lock()
	x.disposed = append(x.disposed, cmd)
	x.mu.Unlock()
	if x.dispose != nil {
		x.dispose(cmd)
	}
}

func (x *mockHandler) counts() (fetched, executed, disposed int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.fetched), len(x.executed), len(x.disposed)
}

type fakePoller struct {
	readyFunc func() (bool, error)
	polls     atomic.Int64
	closes    atomic.Int64
}

func (x *fakePoller) ready() (bool, error) {
	x.polls.Add(1)
	if x.readyFunc == nil {
		return true, nil
	}
	return x.readyFunc()
}

func (x *fakePoller) close() error {
	x.closes.Add(1)
	return nil
}

// eventRecorder is a Reporter that records every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (x *eventRecorder) Report(event Event) {
	x.mu.Lock()
	x.events = append(x.events, event)
	x.mu.Unlock()
}

func (x *eventRecorder) kinds() []EventKind {
	x.mu.Lock()
	defer x.mu.Unlock()
	kinds := make([]EventKind, len(x.events))
	for i, e := range x.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func (x *eventRecorder) find(kind EventKind) (Event, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range x.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return Event{}, false
}

// cycleRecorder collects the ticks of completed cycles via the AfterCycle
// test hook.
type cycleRecorder struct {
	cycles chan int64
	mu     sync.Mutex
	ticks  []int64
	stats  []drainStats
}

func newCycleRecorder() *cycleRecorder {
	return &cycleRecorder{cycles: make(chan int64, 1024)}
}

func (x *cycleRecorder) hook(tick int64, _ time.Duration, stats drainStats) {
	x.mu.Lock()
	x.ticks = append(x.ticks, tick)
	x.stats = append(x.stats, stats)
	x.mu.Unlock()
	x.cycles <- tick
}

func (x *cycleRecorder) snapshot() []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]int64(nil), x.ticks...)
}

func (x *cycleRecorder) wait(t *testing.T, tick int64) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v := <-x.cycles:
			if v == tick {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for cycle %d", tick)
		}
	}
}

// newTestProcessor starts a ModePersistent processor, with a fake poller.
func newTestProcessor(t *testing.T, config Config, hooks *processorTestHooks, options ...Option) (*Processor, *fakePoller) {
	t.Helper()
	poller := new(fakePoller)
	if hooks == nil {
		hooks = new(processorTestHooks)
	}
	if hooks.NewPoller == nil {
		hooks.NewPoller = func(int) (readinessPoller, error) { return poller, nil }
	}
	if config.Handler == nil {
		config.Handler = new(mockHandler)
	}
	if config.TickFrequency == 0 {
		config.TickFrequency = 100
	}
	config.Mode = ModePersistent
	p, err := New(config, append(options, withTestHooks(hooks))...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, poller
}
