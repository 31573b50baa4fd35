// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"runtime/debug"
	"sync"
	"time"
)

// drainPass consumes all commands currently pending on a ControlChannel.
type drainPass struct {
	channel ControlChannel
	handler CommandHandler
	lock    sync.Locker
	report  func(Event)
}

type drainStats struct {
	acceptErr error
	accepted  int
	outcomes  [outcomeCount]int
}

func (s drainStats) commands() (n int) {
	for _, v := range s.outcomes {
		n += v
	}
	return n
}

// run performs one drain pass. In ModePerCommandAccept, it accepts until
// there are no pending connections, handling one command per connection. In
// ModePersistent, it handles commands until one yields an Outcome other than
// OutcomeContinue.
func (x *drainPass) run(tick int64, now time.Time) (stats drainStats) {
	for {
		conn, err := x.channel.acquire()
		if err != nil {
			if err != errNoPending {
				stats.acceptErr = err
				x.report(Event{Kind: EventAcceptError, Tick: tick, Err: err})
			}
			return stats
		}
		if x.channel.Mode() == ModePerCommandAccept {
			stats.accepted++
		}
		executed, outcome := x.step(tick, now, conn)
		if executed {
			stats.outcomes[outcome]++
		}
		if x.channel.exhausted(outcome) {
			return stats
		}
	}
}

// step fetches and executes a single command from conn, then releases conn.
// A panic from the handler is reported, and treated as OutcomeError.
func (x *drainPass) step(tick int64, now time.Time, conn int) (executed bool, outcome Outcome) {
	outcome = OutcomeTerminate
	defer x.channel.release(conn)
	defer func() {
		if r := recover(); r != nil {
			executed, outcome = true, OutcomeError
			x.report(Event{
				Kind: EventCommandPanic,
				Tick: tick,
				Err:  &PanicError{Value: r, Stack: debug.Stack()},
			})
		}
	}()

	cmd, ok := x.handler.FetchCommand(conn, now)
	if !ok {
		return false, OutcomeTerminate
	}
	defer x.handler.DisposeCommand(cmd)

	outcome = x.execute(cmd)
	if outcome < 0 || int(outcome) >= outcomeCount {
		outcome = OutcomeError
	}
	return true, outcome
}

func (x *drainPass) execute(cmd Command) Outcome {
	x.lock.Lock()
	defer x.lock.Unlock()
	return x.handler.ExecuteCommand(cmd)
}
