// Package cmdasync implements the asynchronous control-command processor of a
// media relay. A dedicated worker, locked to an OS thread, is woken by a
// periodic tick. Each cycle, it checks the control socket for readiness,
// drains every pending command, flushes the data plane's queued network I/O,
// then folds the time spent into a smoothed load estimate.
//
// # Control Channels
//
// Commands arrive over a [ControlChannel], in one of two shapes:
//   - [ModePerCommandAccept]: a listening stream socket, accepted once per
//     command, until accept would block
//   - [ModePersistent]: a single (typically datagram) socket, drained until a
//     command yields an [Outcome] other than [OutcomeContinue]
//
// Parsing and execution are delegated to a [CommandHandler]. Execution is
// serialized against the rest of the system via a shared [sync.Locker], held
// only for the duration of each [CommandHandler.ExecuteCommand].
//
// # Ticks and Load
//
// [Processor.Wakeup] publishes a tick, and never blocks on the worker. Ticks
// published faster than the worker can consume them are coalesced, so there
// is at most one cycle per observed tick change. Each cycle's duration, plus
// any busy time added via [Processor.AddBusyTime], is expressed as a fraction
// of the tick period, and smoothed by a [LoadFilter], with decay
// [DefaultLoadDecay]. The result is exposed by [Processor.CurrentLoad].
//
// # Observability
//
// Diagnostic events are delivered to a [Reporter]. [LogReporter] writes them
// to a logiface logger, rate limiting the error kinds. Prometheus metrics may
// be registered via [WithMetrics].
//
// # Platform Support
//
// Readiness is checked using epoll on Linux, and poll(2) on other Unix
// systems. Other platforms are not supported.
//
// # Usage
//
//	p, err := cmdasync.New(cmdasync.Config{
//	    FD:            fd,
//	    Mode:          cmdasync.ModePerCommandAccept,
//	    Handler:       handler,
//	    Lock:          &globalLock,
//	    TickFrequency: 200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	for tick := int64(1); ; tick++ {
//	    <-ticker.C
//	    p.Wakeup(tick)
//	}
package cmdasync
