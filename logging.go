// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// DefaultReportRates are the default rate limits applied to error events,
// per EventKind, by LogReporter.
var DefaultReportRates = map[time.Duration]int{
	time.Second: 10,
	time.Minute: 100,
}

type (
	// LogReporter implements Reporter, writing events to a logiface logger.
	//
	// Error events are rate limited per kind. Events dropped by the limiter
	// are counted, and the count is attached to the next event of the same
	// kind that is written, as the "suppressed" field.
	LogReporter struct {
		logger     *logiface.Logger[logiface.Event]
		limiter    *catrate.Limiter
		suppressed [eventKindCount]atomic.Uint64
	}

	// LogReporterOption configures a LogReporter.
	LogReporterOption func(c *logReporterConfig)

	logReporterConfig struct {
		rates map[time.Duration]int
	}
)

const eventKindCount = int(EventCycle) + 1

// WithReportRates overrides DefaultReportRates, see also
// [catrate.NewLimiter]. Rate limiting may be disabled by providing an empty
// map.
func WithReportRates(rates map[time.Duration]int) LogReporterOption {
	return func(c *logReporterConfig) {
		c.rates = rates
	}
}

// NewLogReporter returns a Reporter that writes to logger. A nil logger is
// valid, and will discard all events. A panic will occur if the configured
// rates are invalid. The rates are copied, so later changes to the map (or
// to DefaultReportRates) have no effect.
func NewLogReporter(logger *logiface.Logger[logiface.Event], options ...LogReporterOption) *LogReporter {
	c := logReporterConfig{rates: DefaultReportRates}
	for _, o := range options {
		if o != nil {
			o(&c)
		}
	}
	x := LogReporter{logger: logger}
	if len(c.rates) != 0 {
		// the limiter retains the map it is given
		x.limiter = catrate.NewLimiter(maps.Clone(c.rates))
	}
	return &x
}

// Report implements Reporter.
func (x *LogReporter) Report(event Event) {
	b := x.logger.Build(eventLevel(event.Kind))
	if !b.Enabled() {
		return
	}

	if event.Kind.IsError() && x.limiter != nil {
		if _, ok := x.limiter.Allow(event.Kind); !ok {
			b.Release()
			if int(event.Kind) < eventKindCount {
				x.suppressed[event.Kind].Add(1)
			}
			return
		}
	}

	b = b.Str(`event`, event.Kind.String())
	if event.Tick != 0 {
		b = b.Int64(`tick`, event.Tick)
	}
	if int(event.Kind) < eventKindCount {
		if n := x.suppressed[event.Kind].Swap(0); n != 0 {
			b = b.Uint64(`suppressed`, n)
		}
	}

	switch event.Kind {
	case EventCycle:
		b.Dur(`duration`, event.Duration).
			Dur(`carry`, event.Carry).
			Float64(`sample`, event.Sample).
			Float64(`load`, event.Load).
			Int(`commands`, event.Commands).
			Log(`control cycle`)
	case EventAcceptError:
		b.Err(event.Err).Log(`can't accept connection on control socket`)
	case EventPollError:
		b.Err(event.Err).Log(`control socket readiness poll failed`)
	case EventCommandPanic:
		b.Err(event.Err).Log(`command execution panicked`)
	case EventPumpPanic:
		b.Err(event.Err).Log(`network io pump panicked`)
	case EventStarted:
		b.Log(`command processor started`)
	case EventStopped:
		b.Log(`command processor stopped`)
	default:
		b.Log(`unknown event`)
	}
}

func eventLevel(kind EventKind) logiface.Level {
	switch kind {
	case EventCycle:
		return logiface.LevelDebug
	case EventAcceptError, EventPollError:
		return logiface.LevelError
	case EventCommandPanic, EventPumpPanic:
		return logiface.LevelCritical
	case EventStarted:
		return logiface.LevelInformational
	case EventStopped:
		return logiface.LevelNotice
	default:
		return logiface.LevelWarning
	}
}
