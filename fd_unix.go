// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package cmdasync

import (
	"errors"

	"golang.org/x/sys/unix"
)

// acceptFD accepts one pending connection, marking it close-on-exec.
func acceptFD(fd int) (int, error) {
	conn, _, err := unix.Accept(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(conn)
	return conn, nil
}

// closeFD closes a file descriptor on Unix systems.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// setNonblock sets O_NONBLOCK on fd, returning a func that clears it again,
// if it was not already set.
func setNonblock(fd int) (restore func(), err error) {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return nil, err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return func() {}, nil
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}
	return func() { _ = unix.SetNonblock(fd, false) }, nil
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
