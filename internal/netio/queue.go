// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

// Package netio implements an asynchronous datagram send queue. Sends are
// queued without blocking, and flushed in batches by Pump, which is called
// once per control cycle.
package netio

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

const (
	// DefaultCapacity is the default maximum number of queued datagrams.
	DefaultCapacity = 1024
	// DefaultMaxBatch is the default maximum number of datagrams sent per
	// call to Pump.
	DefaultMaxBatch = 64
)

// ErrQueueFull is returned by Send if the queue is at capacity. The datagram
// is dropped.
var ErrQueueFull = errors.New("netio: send queue full")

type (
	// Queue is a bounded queue of outbound datagrams. It is safe for
	// concurrent use.
	Queue struct {
		logger   *logiface.Logger[logiface.Event]
		limiter  *catrate.Limiter
		sendto   func(fd int, p []byte, flags int, to unix.Sockaddr) error
		ch       chan packet
		maxBatch int
		queued   atomic.Uint64
		sent     atomic.Uint64
		dropped  atomic.Uint64
		failed   atomic.Uint64
	}

	// Option configures a Queue.
	Option func(c *queueConfig)

	// Stats is a snapshot of a Queue's counters.
	Stats struct {
		Queued  uint64
		Sent    uint64
		Dropped uint64
		Failed  uint64
		Pending int
	}

	queueConfig struct {
		logger   *logiface.Logger[logiface.Event]
		sendto   func(fd int, p []byte, flags int, to unix.Sockaddr) error
		capacity int
		maxBatch int
	}

	packet struct {
		to      unix.Sockaddr
		payload []byte
		fd      int
	}
)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(capacity int) Option {
	return func(c *queueConfig) {
		c.capacity = capacity
	}
}

// WithMaxBatch overrides DefaultMaxBatch.
func WithMaxBatch(maxBatch int) Option {
	return func(c *queueConfig) {
		c.maxBatch = maxBatch
	}
}

// WithLogger configures a logger for failed sends, which are rate limited.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(c *queueConfig) {
		c.logger = logger
	}
}

// withSendto replaces the send syscall, for testing.
func withSendto(sendto func(fd int, p []byte, flags int, to unix.Sockaddr) error) Option {
	return func(c *queueConfig) {
		c.sendto = sendto
	}
}

// New initializes a Queue. A panic will occur if capacity or max batch are
// not positive.
func New(options ...Option) *Queue {
	c := queueConfig{
		sendto:   unix.Sendto,
		capacity: DefaultCapacity,
		maxBatch: DefaultMaxBatch,
	}
	for _, o := range options {
		if o != nil {
			o(&c)
		}
	}
	if c.capacity <= 0 {
		panic(`netio: capacity must be positive`)
	}
	if c.maxBatch <= 0 {
		panic(`netio: max batch must be positive`)
	}
	return &Queue{
		logger: c.logger,
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 5,
			time.Minute: 60,
		}),
		sendto:   c.sendto,
		ch:       make(chan packet, c.capacity),
		maxBatch: c.maxBatch,
	}
}

// Send queues a datagram to be sent on fd, to the given address, which may
// be nil if fd is connected. It never blocks. The payload must not be
// modified after calling Send.
func (x *Queue) Send(fd int, payload []byte, to unix.Sockaddr) error {
	select {
	case x.ch <- packet{fd: fd, payload: payload, to: to}:
		x.queued.Add(1)
		return nil
	default:
		x.dropped.Add(1)
		return ErrQueueFull
	}
}

// Pump sends up to the max batch size of queued datagrams, without blocking.
// Datagrams that would block, or otherwise fail, are dropped.
func (x *Queue) Pump() {
	for i := 0; i < x.maxBatch; i++ {
		var p packet
		select {
		case p = <-x.ch:
		default:
			return
		}
		if err := x.sendto(p.fd, p.payload, unix.MSG_DONTWAIT, p.to); err != nil {
			x.failed.Add(1)
			x.logSendError(p.fd, err)
			continue
		}
		x.sent.Add(1)
	}
}

// Len returns the number of queued datagrams.
func (x *Queue) Len() int {
	return len(x.ch)
}

// Stats returns a snapshot of the queue's counters.
func (x *Queue) Stats() Stats {
	return Stats{
		Queued:  x.queued.Load(),
		Sent:    x.sent.Load(),
		Dropped: x.dropped.Load(),
		Failed:  x.failed.Load(),
		Pending: len(x.ch),
	}
}

func (x *Queue) logSendError(fd int, err error) {
	b := x.logger.Err()
	if !b.Enabled() {
		return
	}
	if _, ok := x.limiter.Allow(fd); !ok {
		b.Release()
		return
	}
	b.Int(`fd`, fd).
		Err(err).
		Log(`async send failed`)
}
