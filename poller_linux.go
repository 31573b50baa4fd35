// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package cmdasync

import (
	"errors"

	"golang.org/x/sys/unix"
)

// epollPoller checks readiness using a dedicated, level-triggered, epoll
// instance, containing only the control descriptor.
type epollPoller struct {
	events [1]unix.EpollEvent
	epfd   int
	fd     int
}

func newReadinessPoller(fd int) (readinessPoller, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	return &epollPoller{epfd: epfd, fd: fd}, nil
}

func (p *epollPoller) ready() (bool, error) {
	n, err := unix.EpollWait(p.epfd, p.events[:], 0)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, errInterrupted
		}
		return false, &PollError{FD: p.fd, Err: err}
	}
	return n > 0 && p.events[0].Events&unix.EPOLLIN != 0, nil
}

func (p *epollPoller) close() error {
	if p.epfd < 0 {
		return nil
	}
	err := unix.Close(p.epfd)
	p.epfd = -1
	return err
}
