// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultMetricsNamespace is the namespace used for the processor's metrics,
// unless overridden by WithMetricsNamespace.
const DefaultMetricsNamespace = "cmdasync"

// processorMetrics holds the Prometheus metrics for a processor. The metrics
// are always updated, and are only exported if registered.
type processorMetrics struct {
	registerer prometheus.Registerer
	registered []prometheus.Collector

	load           prometheus.Gauge
	peakLoad       prometheus.Gauge
	cycles         prometheus.Counter
	cycleDuration  prometheus.Histogram
	commands       *prometheus.CounterVec
	accepted       prometheus.Counter
	acceptErrors   prometheus.Counter
	pollInterrupts prometheus.Counter
	pollErrors     prometheus.Counter
	coalesced      prometheus.Counter
}

func newProcessorMetrics(namespace string, labels prometheus.Labels) *processorMetrics {
	if namespace == "" {
		namespace = DefaultMetricsNamespace
	}
	return &processorMetrics{
		load: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "load",
			Help:        "Smoothed fraction of one tick period consumed per control cycle.",
			ConstLabels: labels,
		}),
		peakLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "peak_load",
			Help:        "Highest smoothed load observed.",
			ConstLabels: labels,
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "cycles_total",
			Help:        "Number of completed control cycles.",
			ConstLabels: labels,
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "cycle_duration_seconds",
			Help:        "Measured wall-clock duration of control cycles, excluding carried busy time.",
			Buckets:     prometheus.ExponentialBuckets(50e-6, 2, 14),
			ConstLabels: labels,
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Number of executed control commands, by outcome.",
			ConstLabels: labels,
		}, []string{"outcome"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "accepted_total",
			Help:        "Number of connections accepted on the control socket.",
			ConstLabels: labels,
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "accept_errors_total",
			Help:        "Number of failed accepts on the control socket, excluding would-block.",
			ConstLabels: labels,
		}),
		pollInterrupts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "poll_interrupts_total",
			Help:        "Number of cycles restarted due to an interrupted readiness poll.",
			ConstLabels: labels,
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "poll_errors_total",
			Help:        "Number of failed readiness polls.",
			ConstLabels: labels,
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "coalesced_ticks_total",
			Help:        "Number of ticks overwritten before the worker observed them.",
			ConstLabels: labels,
		}),
	}
}

func (x *processorMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		x.load,
		x.peakLoad,
		x.cycles,
		x.cycleDuration,
		x.commands,
		x.accepted,
		x.acceptErrors,
		x.pollInterrupts,
		x.pollErrors,
		x.coalesced,
	}
}

// register registers all metrics, or none: on failure, any metrics that were
// registered are unregistered, before returning the error.
func (x *processorMetrics) register(registerer prometheus.Registerer) error {
	if registerer == nil {
		return nil
	}
	for _, c := range x.collectors() {
		if err := registerer.Register(c); err != nil {
			x.registerer = registerer
			x.unregister()
			return err
		}
		x.registered = append(x.registered, c)
	}
	x.registerer = registerer
	return nil
}

func (x *processorMetrics) unregister() {
	if x.registerer == nil {
		return
	}
	for _, c := range x.registered {
		x.registerer.Unregister(c)
	}
	x.registered = nil
}

func (x *processorMetrics) observeCycle(seconds, load, peak float64) {
	x.cycles.Inc()
	x.cycleDuration.Observe(seconds)
	x.load.Set(load)
	x.peakLoad.Set(peak)
}

func (x *processorMetrics) observeDrain(stats drainStats) {
	if stats.accepted != 0 {
		x.accepted.Add(float64(stats.accepted))
	}
	for outcome, n := range stats.outcomes {
		if n != 0 {
			x.commands.WithLabelValues(Outcome(outcome).String()).Add(float64(n))
		}
	}
	if stats.acceptErr != nil {
		x.acceptErrors.Inc()
	}
}
