// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
)

// processorOptions holds configuration options for Processor creation.
type processorOptions struct {
	reporter       Reporter
	clock          Clock
	registerer     prometheus.Registerer
	labels         prometheus.Labels
	newPoller      func(fd int) (readinessPoller, error)
	spawn          func(fn func()) error
	hooks          *processorTestHooks
	namespace      string
	loadDecay      float64
	reportInterval int64
}

// Option configures a Processor instance.
type Option interface {
	applyProcessor(*processorOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyProcessorFunc func(*processorOptions) error
}

func (o *optionImpl) applyProcessor(opts *processorOptions) error {
	return o.applyProcessorFunc(opts)
}

// WithLogger reports processor events to the given logger, using
// NewLogReporter. A nil logger disables reporting. Replaces any Reporter set
// by an earlier option.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *processorOptions) error {
		if logger == nil {
			opts.reporter = nil
		} else {
			opts.reporter = NewLogReporter(logger)
		}
		return nil
	}}
}

// WithReporter sets the sink for processor events. Reporters are called from
// the worker goroutine, and must not block.
func WithReporter(reporter Reporter) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.reporter = reporter
		return nil
	}}
}

// WithClock overrides the clock used to measure cycle durations. Defaults to
// time.Now.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *processorOptions) error {
		if clock == nil {
			return errors.New("cmdasync: nil clock")
		}
		opts.clock = clock
		return nil
	}}
}

// WithMetrics registers the processor's Prometheus metrics with the given
// registerer, for the lifetime of the processor. Registration failure fails
// New.
func WithMetrics(registerer prometheus.Registerer) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.registerer = registerer
		return nil
	}}
}

// WithMetricsNamespace overrides DefaultMetricsNamespace.
func WithMetricsNamespace(namespace string) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.namespace = namespace
		return nil
	}}
}

// WithMetricsLabels sets constant labels for all metrics, which is necessary
// to register more than one processor with the same registerer.
func WithMetricsLabels(labels prometheus.Labels) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.labels = labels
		return nil
	}}
}

// WithLoadDecay overrides DefaultLoadDecay. The decay must be within the open
// interval (0, 1).
func WithLoadDecay(decay float64) Option {
	return &optionImpl{func(opts *processorOptions) error {
		if !(decay > 0 && decay < 1) {
			return errors.New("cmdasync: load decay must be within (0, 1)")
		}
		opts.loadDecay = decay
		return nil
	}}
}

// WithCycleReportInterval sets how often (in ticks) an EventCycle is
// reported. Defaults to the tick frequency, i.e. roughly once per second. A
// negative value disables cycle events.
func WithCycleReportInterval(ticks int64) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.reportInterval = ticks
		return nil
	}}
}

// withTestHooks installs hooks used by tests to observe, or fault, the
// processor.
func withTestHooks(hooks *processorTestHooks) Option {
	return &optionImpl{func(opts *processorOptions) error {
		opts.hooks = hooks
		return nil
	}}
}

// processorTestHooks provides injection points for testing.
type processorTestHooks struct {
	// NewPoller replaces the readiness poller.
	NewPoller func(fd int) (readinessPoller, error)
	// Spawn replaces starting the worker goroutine.
	Spawn func(fn func()) error
	// AfterCycle is called by the worker, after each completed cycle.
	AfterCycle func(tick int64, elapsed time.Duration, stats drainStats)
}

// resolveOptions applies Option instances to processorOptions.
func resolveOptions(options []Option) (*processorOptions, error) {
	opts := &processorOptions{
		clock:     time.Now,
		newPoller: newReadinessPoller,
		spawn: func(fn func()) error {
			go fn()
			return nil
		},
		namespace: DefaultMetricsNamespace,
		loadDecay: DefaultLoadDecay,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		if err := opt.applyProcessor(opts); err != nil {
			return nil, err
		}
	}
	if opts.reporter == nil {
		opts.reporter = noopReporter{}
	}
	if opts.hooks != nil {
		if opts.hooks.NewPoller != nil {
			opts.newPoller = opts.hooks.NewPoller
		}
		if opts.hooks.Spawn != nil {
			opts.spawn = opts.hooks.Spawn
		}
	}
	return opts, nil
}
