// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"bytes"
	"errors"
	"maps"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
)

func newTestLogger(buf *bytes.Buffer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(buf), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func logLines(buf *bytes.Buffer) []string {
	s := strings.TrimSpace(buf.String())
	if s == `` {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestLogReporter_Report(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(newTestLogger(&buf, logiface.LevelDebug))

	r.Report(Event{Kind: EventStarted})
	r.Report(Event{Kind: EventAcceptError, Tick: 12, Err: &AcceptError{FD: 4, Err: errors.New(`too many open files`)}})
	r.Report(Event{Kind: EventCycle, Tick: 200, Duration: time.Millisecond, Load: 0.25, Commands: 2})
	r.Report(Event{Kind: EventStopped})

	lines := logLines(&buf)
	if assert.Len(t, lines, 4) {
		assert.Contains(t, lines[0], `"lvl":"info"`)
		assert.Contains(t, lines[0], `"event":"started"`)
		assert.Contains(t, lines[0], `"msg":"command processor started"`)

		assert.Contains(t, lines[1], `"lvl":"err"`)
		assert.Contains(t, lines[1], `"event":"accept_error"`)
		assert.Contains(t, lines[1], `"err":"cmdasync: can't accept connection on control socket 4: too many open files"`)
		assert.Contains(t, lines[1], `"tick"`)

		assert.Contains(t, lines[2], `"lvl":"debug"`)
		assert.Contains(t, lines[2], `"event":"cycle"`)
		assert.Contains(t, lines[2], `"load":`)
		assert.Contains(t, lines[2], `"msg":"control cycle"`)

		assert.Contains(t, lines[3], `"lvl":"notice"`)
		assert.Contains(t, lines[3], `"msg":"command processor stopped"`)
	}
}

func TestLogReporter_levelFiltering(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(newTestLogger(&buf, logiface.LevelInformational))

	r.Report(Event{Kind: EventCycle, Tick: 1})
	assert.Empty(t, buf.String())

	r.Report(Event{Kind: EventPumpPanic, Err: &PanicError{Value: `boom`}})
	lines := logLines(&buf)
	if assert.Len(t, lines, 1) {
		assert.Contains(t, lines[0], `"lvl":"crit"`)
		assert.Contains(t, lines[0], `"err":"cmdasync: recovered panic: boom"`)
	}
}

func TestLogReporter_rateLimited(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(newTestLogger(&buf, logiface.LevelDebug), WithReportRates(map[time.Duration]int{time.Hour: 2}))

	for i := 0; i < 5; i++ {
		r.Report(Event{Kind: EventPollError, Err: errors.New(`poll failed`)})
	}
	// limited per kind
	r.Report(Event{Kind: EventAcceptError, Err: errors.New(`accept failed`)})
	// non-error events are never limited
	for i := 0; i < 5; i++ {
		r.Report(Event{Kind: EventCycle})
	}

	lines := logLines(&buf)
	assert.Len(t, lines, 8)
	assert.Equal(t, 2, strings.Count(buf.String(), `"event":"poll_error"`))
	assert.Equal(t, 1, strings.Count(buf.String(), `"event":"accept_error"`))
	assert.Equal(t, uint64(3), r.suppressed[EventPollError].Load())
}

func TestLogReporter_ratesCopied(t *testing.T) {
	rates := map[time.Duration]int{time.Hour: 2}
	var buf bytes.Buffer
	r := NewLogReporter(newTestLogger(&buf, logiface.LevelDebug), WithReportRates(rates))
	rates[time.Hour] = 100
	clear(rates)

	defaults := maps.Clone(DefaultReportRates)
	defer func() { DefaultReportRates = defaults }()
	var defaultBuf bytes.Buffer
	d := NewLogReporter(newTestLogger(&defaultBuf, logiface.LevelDebug))
	clear(DefaultReportRates)

	for i := 0; i < 20; i++ {
		r.Report(Event{Kind: EventPollError, Err: errors.New(`poll failed`)})
		d.Report(Event{Kind: EventPollError, Err: errors.New(`poll failed`)})
	}
	assert.Len(t, logLines(&buf), 2)
	assert.Len(t, logLines(&defaultBuf), defaults[time.Second])
}

func TestLogReporter_unlimited(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(newTestLogger(&buf, logiface.LevelDebug), WithReportRates(nil))
	for i := 0; i < 50; i++ {
		r.Report(Event{Kind: EventPollError, Err: errors.New(`poll failed`)})
	}
	assert.Len(t, logLines(&buf), 50)
}

func TestLogReporter_nilLogger(t *testing.T) {
	r := NewLogReporter(nil)
	assert.NotPanics(t, func() {
		r.Report(Event{Kind: EventAcceptError, Err: errors.New(`x`)})
		r.Report(Event{Kind: EventCycle})
	})
}

func TestEventKind_String(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventStarted:      `started`,
		EventStopped:      `stopped`,
		EventAcceptError:  `accept_error`,
		EventPollError:    `poll_error`,
		EventCommandPanic: `command_panic`,
		EventPumpPanic:    `pump_panic`,
		EventCycle:        `cycle`,
		EventKind(0):      `unknown`,
	} {
		assert.Equal(t, want, kind.String())
	}
	assert.True(t, EventPollError.IsError())
	assert.False(t, EventCycle.IsError())
}
