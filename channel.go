// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package cmdasync

import (
	"fmt"
)

// Mode selects the transport shape of a ControlChannel.
type Mode uint8

const (
	// ModePerCommandAccept is a listening (stream) descriptor, that must be
	// accepted once per command. The accepted descriptor is closed after the
	// command is processed.
	ModePerCommandAccept Mode = iota
	// ModePersistent is a single descriptor (e.g. a datagram socket), reused
	// across commands.
	ModePersistent
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModePerCommandAccept:
		return "accept"
	case ModePersistent:
		return "persistent"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ControlChannel is the transport over which control commands arrive. It is
// implemented only by this package, see NewControlChannel.
//
// The configured descriptor is owned by the caller, and is never closed by
// the ControlChannel.
type ControlChannel interface {
	// FD returns the descriptor polled for read readiness.
	FD() int

	// Mode returns the transport shape.
	Mode() Mode

	// acquire returns the descriptor to fetch the next command from, or
	// errNoPending, if there are no more commands to be had.
	acquire() (int, error)

	// release is called after each command, with the descriptor returned by
	// acquire.
	release(conn int)

	// exhausted returns true if the drain pass should stop, after a command
	// with the given outcome.
	exhausted(outcome Outcome) bool

	// restore undoes any changes made to the descriptor's flags.
	restore()
}

type (
	acceptChannel struct {
		accept   func(fd int) (int, error)
		close    func(fd int) error
		blocking func()
		fd       int
	}

	persistentChannel struct {
		fd int
	}
)

var (
	_ ControlChannel = (*acceptChannel)(nil)
	_ ControlChannel = (*persistentChannel)(nil)
)

// NewControlChannel initializes a ControlChannel for the given descriptor and
// mode. See also NewAcceptChannel and NewPersistentChannel.
func NewControlChannel(fd int, mode Mode) (ControlChannel, error) {
	switch mode {
	case ModePerCommandAccept:
		return NewAcceptChannel(fd)
	case ModePersistent:
		return NewPersistentChannel(fd)
	default:
		return nil, fmt.Errorf(`%w: %s`, ErrInvalidMode, mode)
	}
}

// NewAcceptChannel initializes a ModePerCommandAccept ControlChannel. The
// listening descriptor fd will be set to non-blocking mode, as required to
// detect the end of each drain pass, and is left that way. New reverts the
// change if it fails.
func NewAcceptChannel(fd int) (ControlChannel, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	blocking, err := setNonblock(fd)
	if err != nil {
		return nil, err
	}
	return &acceptChannel{
		accept:   acceptFD,
		close:    closeFD,
		blocking: blocking,
		fd:       fd,
	}, nil
}

// NewPersistentChannel initializes a ModePersistent ControlChannel.
func NewPersistentChannel(fd int) (ControlChannel, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	return &persistentChannel{fd: fd}, nil
}

func (x *acceptChannel) FD() int { return x.fd }

func (x *acceptChannel) Mode() Mode { return ModePerCommandAccept }

func (x *acceptChannel) acquire() (int, error) {
	conn, err := x.accept(x.fd)
	if err != nil {
		if isWouldBlock(err) {
			return -1, errNoPending
		}
		return -1, &AcceptError{FD: x.fd, Err: err}
	}
	return conn, nil
}

func (x *acceptChannel) release(conn int) {
	_ = x.close(conn)
}

// exhausted is always false, as there may be more than one connection queued
// per readiness notification, and acquire signals the end.
func (x *acceptChannel) exhausted(Outcome) bool { return false }

func (x *acceptChannel) restore() {
	if x.blocking != nil {
		x.blocking()
	}
}

func (x *persistentChannel) FD() int { return x.fd }

func (x *persistentChannel) Mode() Mode { return ModePersistent }

func (x *persistentChannel) acquire() (int, error) { return x.fd, nil }

func (x *persistentChannel) release(int) {}

func (x *persistentChannel) exhausted(outcome Outcome) bool {
	return outcome != OutcomeContinue
}

func (x *persistentChannel) restore() {}
