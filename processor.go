// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Config specifies the collaborators of a Processor.
type Config struct {
	// Handler parses and executes commands. Required.
	Handler CommandHandler

	// Pump is called once per cycle, to flush the data plane's queued
	// network I/O. Optional.
	Pump Pump

	// Lock is the global serialization lock, shared with the rest of the
	// system, held only while executing each command. If nil, a private
	// mutex is used.
	Lock sync.Locker

	// FD is the control descriptor, which remains owned by the caller. In
	// ModePerCommandAccept, it is set to non-blocking mode, and stays that
	// way unless New fails.
	FD int

	// TickFrequency is the number of ticks per second, used to convert cycle
	// durations into load samples. Must be positive and finite.
	TickFrequency float64

	// Mode selects the transport shape of FD.
	Mode Mode
}

// Processor is the asynchronous command processor. A dedicated worker
// goroutine, locked to an OS thread, waits for each new tick (see Wakeup),
// then drains the control channel, services the Pump, and updates the
// smoothed load (see CurrentLoad).
type Processor struct {
	channel  ControlChannel
	poller   readinessPoller
	pump     Pump
	reporter Reporter
	clock    Clock
	metrics  *processorMetrics
	hooks    *processorTestHooks
	done     chan struct{}

	drain drainPass
	state tickState

	tickFrequency  float64
	reportInterval int64

	stopOnce sync.Once
	workerID atomic.Uint64
	status   stateMachine

	cycles         atomic.Uint64
	commands       atomic.Uint64
	accepted       atomic.Uint64
	acceptErrors   atomic.Uint64
	pollInterrupts atomic.Uint64
	pollErrors     atomic.Uint64
}

// Stats is a point-in-time snapshot of a Processor.
type Stats struct {
	// Tick is the most recently published tick.
	Tick int64
	// Carry is the busy time that will be folded into the next load sample.
	Carry time.Duration

	Load     float64
	PeakLoad float64

	Cycles         uint64
	Commands       uint64
	Accepted       uint64
	AcceptErrors   uint64
	PollInterrupts uint64
	PollErrors     uint64
	Coalesced      uint64

	State State
}

// New initializes the processor state, and starts the worker. Initialization
// is staged, and all resources acquired by earlier stages are released if a
// later stage fails, in which case an *InitError is returned.
//
// The initial tick is zero, and the initial load is zero.
func New(config Config, options ...Option) (*Processor, error) {
	opts, err := resolveOptions(options)
	if err != nil {
		return nil, &InitError{Stage: "options", Err: err}
	}

	if config.Handler == nil {
		return nil, &InitError{Stage: "config", Err: ErrNilHandler}
	}
	if !(config.TickFrequency > 0) || math.IsInf(config.TickFrequency, 0) {
		return nil, &InitError{Stage: "config", Err: ErrInvalidTickFrequency}
	}

	channel, err := NewControlChannel(config.FD, config.Mode)
	if err != nil {
		return nil, &InitError{Stage: "channel", Err: err}
	}

	lock := config.Lock
	if lock == nil {
		lock = new(sync.Mutex)
	}
	pump := config.Pump
	if pump == nil {
		pump = PumpFunc(func() {})
	}

	reportInterval := opts.reportInterval
	if reportInterval == 0 {
		reportInterval = int64(math.Round(config.TickFrequency))
		if reportInterval < 1 {
			reportInterval = 1
		}
	}

	x := &Processor{
		channel:        channel,
		pump:           pump,
		reporter:       opts.reporter,
		clock:          opts.clock,
		metrics:        newProcessorMetrics(opts.namespace, opts.labels),
		hooks:          opts.hooks,
		done:           make(chan struct{}),
		tickFrequency:  config.TickFrequency,
		reportInterval: reportInterval,
	}
	x.drain = drainPass{
		channel: channel,
		handler: config.Handler,
		lock:    lock,
		report:  x.report,
	}
	x.state.init(opts.loadDecay)

	if x.poller, err = opts.newPoller(config.FD); err != nil {
		channel.restore()
		return nil, &InitError{Stage: "poller", Err: err}
	}

	if err := x.metrics.register(opts.registerer); err != nil {
		_ = x.poller.close()
		channel.restore()
		return nil, &InitError{Stage: "metrics", Err: err}
	}

	if err := opts.spawn(x.run); err != nil {
		x.metrics.unregister()
		_ = x.poller.close()
		channel.restore()
		return nil, &InitError{Stage: "worker", Err: err}
	}

	return x, nil
}

// Wakeup publishes a new tick, and wakes the worker, returning the tick
// value that was current before this call. It also resets the busy time
// carry. It never blocks on the worker's progress, and may be called from
// any goroutine.
//
// If the worker has not yet observed the previous tick, that tick is
// coalesced: the worker will only ever see the latest value.
func (x *Processor) Wakeup(tick int64) int64 {
	previous, coalesced := x.state.publish(tick)
	if coalesced {
		x.metrics.coalesced.Inc()
	}
	return previous
}

// CurrentLoad returns the smoothed load, as a fraction of one tick period
// consumed per cycle. It may be called from any goroutine.
func (x *Processor) CurrentLoad() float64 {
	return x.state.load()
}

// AddBusyTime adds time spent by the caller on the processor's behalf, which
// will be included in the next load sample. It is reset by Wakeup.
func (x *Processor) AddBusyTime(d time.Duration) {
	x.state.addBusy(d)
}

// State returns the current lifecycle state.
func (x *Processor) State() State {
	return x.status.Load()
}

// Stats returns a snapshot of the processor's counters.
func (x *Processor) Stats() Stats {
	s := x.state.snapshot()
	return Stats{
		Tick:           s.tick,
		Carry:          s.carry,
		Load:           s.load,
		PeakLoad:       s.peak,
		Cycles:         x.cycles.Load(),
		Commands:       x.commands.Load(),
		Accepted:       x.accepted.Load(),
		AcceptErrors:   x.acceptErrors.Load(),
		PollInterrupts: x.pollInterrupts.Load(),
		PollErrors:     x.pollErrors.Load(),
		Coalesced:      s.coalesced,
		State:          x.status.Load(),
	}
}

// Done returns a channel that is closed once the worker has exited.
func (x *Processor) Done() <-chan struct{} {
	return x.done
}

// Shutdown stops the worker, waiting for it to exit, or for ctx to be done.
// Any cycle in progress runs to completion. Once the worker has exited, the
// poller is closed, and metrics are unregistered. The control descriptor is
// never closed.
//
// Only the first call returns nil, subsequent calls return
// ErrProcessorTerminated, after waiting. Calling Shutdown from the worker
// goroutine returns ErrReentrantShutdown.
func (x *Processor) Shutdown(ctx context.Context) error {
	if x.isWorker() {
		return ErrReentrantShutdown
	}

	var first bool
	x.stopOnce.Do(func() {
		first = true
		for {
			current := x.status.Load()
			if current == StateTerminating || current == StateTerminated {
				break
			}
			if x.status.TryTransition(current, StateTerminating) {
				break
			}
		}
		x.state.stop()
	})

	select {
	case <-x.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if !first {
		return ErrProcessorTerminated
	}
	return nil
}

// Close is equivalent to Shutdown with a background context.
func (x *Processor) Close() error {
	return x.Shutdown(context.Background())
}

func (x *Processor) isWorker() bool {
	id := x.workerID.Load()
	return id != 0 && id == getGoroutineID()
}

// run is the worker loop. Each iteration is one cycle, started by a change
// in tick.
func (x *Processor) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	x.workerID.Store(getGoroutineID())
	defer x.workerID.Store(0)

	defer close(x.done)

	x.report(Event{Kind: EventStarted})

	for {
		tick, carry, ok := x.state.waitForChange()
		if !ok {
			break
		}
		x.cycle(tick, carry)
	}

	_ = x.poller.close()
	x.metrics.unregister()
	x.status.Store(StateTerminated)
	x.report(Event{Kind: EventStopped, Tick: x.state.snapshot().tick})
}

func (x *Processor) cycle(tick int64, carry time.Duration) {
	x.status.TryTransition(StateWaiting, StateRunning)
	defer x.status.TryTransition(StateRunning, StateWaiting)

	start := x.clock()

	readable, err := x.poller.ready()
	if err != nil {
		if err == errInterrupted {
			// the tick is consumed, without a drain, pump, or load sample
			x.pollInterrupts.Add(1)
			x.metrics.pollInterrupts.Inc()
			return
		}
		x.pollErrors.Add(1)
		x.metrics.pollErrors.Inc()
		x.report(Event{Kind: EventPollError, Tick: tick, Err: err})
	}

	var stats drainStats
	if readable {
		stats = x.drain.run(tick, start)
		x.metrics.observeDrain(stats)
		x.accepted.Add(uint64(stats.accepted))
		x.commands.Add(uint64(stats.commands()))
		if stats.acceptErr != nil {
			x.acceptErrors.Add(1)
		}
	}

	x.runPump(tick)

	elapsed := x.clock().Sub(start)
	sample := (elapsed + carry).Seconds() * x.tickFrequency
	load, peak := x.state.apply(sample)

	x.cycles.Add(1)
	x.metrics.observeCycle(elapsed.Seconds(), load, peak)

	if x.reportInterval > 0 && tick%x.reportInterval == 0 {
		x.report(Event{
			Kind:     EventCycle,
			Tick:     tick,
			Duration: elapsed,
			Carry:    carry,
			Sample:   sample,
			Load:     load,
			Commands: stats.commands(),
		})
	}

	if x.hooks != nil && x.hooks.AfterCycle != nil {
		x.hooks.AfterCycle(tick, elapsed, stats)
	}
}

func (x *Processor) runPump(tick int64) {
	defer func() {
		if r := recover(); r != nil {
			x.report(Event{
				Kind: EventPumpPanic,
				Tick: tick,
				Err:  &PanicError{Value: r, Stack: debug.Stack()},
			})
		}
	}()
	x.pump.Pump()
}

// report delivers an event to the reporter, which must not disrupt the
// worker.
func (x *Processor) report(event Event) {
	defer func() { _ = recover() }()
	x.reporter.Report(event)
}

// getGoroutineID returns the current goroutine's ID, parsed from the stack
// header, the same approach as go-eventloop's loop goroutine check.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
