// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix && !linux

package cmdasync

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pollPoller checks readiness using poll(2), which needs no kernel state.
type pollPoller struct {
	fds [1]unix.PollFd
}

func newReadinessPoller(fd int) (readinessPoller, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	return &pollPoller{fds: [1]unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}}, nil
}

func (p *pollPoller) ready() (bool, error) {
	p.fds[0].Revents = 0
	n, err := unix.Poll(p.fds[:], 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, errInterrupted
		}
		return false, &PollError{FD: int(p.fds[0].Fd), Err: err}
	}
	return n > 0 && p.fds[0].Revents&unix.POLLIN != 0, nil
}

func (p *pollPoller) close() error { return nil }
