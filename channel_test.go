// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

package cmdasync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewControlChannel_invalid(t *testing.T) {
	_, err := NewControlChannel(3, Mode(9))
	assert.ErrorIs(t, err, ErrInvalidMode)
	assert.EqualError(t, err, `cmdasync: invalid control channel mode: Mode(9)`)

	_, err = NewControlChannel(-1, ModePersistent)
	assert.ErrorIs(t, err, ErrInvalidFD)

	_, err = NewControlChannel(-1, ModePerCommandAccept)
	assert.ErrorIs(t, err, ErrInvalidFD)
}

func TestNewAcceptChannel_setsNonblock(t *testing.T) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fd)
	require.NoError(t, unix.Bind(fd, &unix.SockaddrUnix{Name: t.TempDir() + `/ctl.sock`}))
	require.NoError(t, unix.Listen(fd, 8))

	c, err := NewControlChannel(fd, ModePerCommandAccept)
	require.NoError(t, err)
	assert.Equal(t, fd, c.FD())
	assert.Equal(t, ModePerCommandAccept, c.Mode())

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	require.NoError(t, err)
	assert.NotZero(t, flags&unix.O_NONBLOCK)

	// nothing pending
	conn, err := c.acquire()
	assert.Equal(t, -1, conn)
	assert.Same(t, errNoPending, err)
}

func TestAcceptChannel_restore(t *testing.T) {
	flags := func(fd int) int {
		v, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		require.NoError(t, err)
		return v
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	c, err := NewAcceptChannel(fd)
	require.NoError(t, err)
	require.NotZero(t, flags(fd)&unix.O_NONBLOCK)
	c.restore()
	assert.Zero(t, flags(fd)&unix.O_NONBLOCK)

	// descriptors that were already non-blocking are left alone
	require.NoError(t, unix.SetNonblock(fd, true))
	c, err = NewAcceptChannel(fd)
	require.NoError(t, err)
	c.restore()
	assert.NotZero(t, flags(fd)&unix.O_NONBLOCK)

	// zero value
	(&acceptChannel{}).restore()
}

func TestPersistentChannel(t *testing.T) {
	c, err := NewControlChannel(5, ModePersistent)
	require.NoError(t, err)
	assert.Equal(t, 5, c.FD())
	assert.Equal(t, ModePersistent, c.Mode())

	conn, err := c.acquire()
	assert.NoError(t, err)
	assert.Equal(t, 5, conn)

	assert.False(t, c.exhausted(OutcomeContinue))
	assert.True(t, c.exhausted(OutcomeTerminate))
	assert.True(t, c.exhausted(OutcomeError))
}

func TestAcceptChannel_neverExhausted(t *testing.T) {
	c := &acceptChannel{fd: 1}
	for _, o := range []Outcome{OutcomeContinue, OutcomeTerminate, OutcomeError} {
		assert.False(t, c.exhausted(o))
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, `accept`, ModePerCommandAccept.String())
	assert.Equal(t, `persistent`, ModePersistent.String())
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, `continue`, OutcomeContinue.String())
	assert.Equal(t, `terminate`, OutcomeTerminate.String())
	assert.Equal(t, `error`, OutcomeError.String())
	assert.Equal(t, `unknown`, Outcome(-1).String())
}
