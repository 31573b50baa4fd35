// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build unix

// Package ctlproto implements a minimal control protocol, in the style of an
// RTP proxy's command socket, as a cmdasync.CommandHandler.
//
// Over a stream socket, each connection carries a single command line, and
// the reply is written back directly, once the global lock is released. Over a datagram socket, each datagram
// is prefixed by a cookie, which is echoed in the reply, and replies are sent
// asynchronously, via a netio.Queue.
package ctlproto

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-cmdasync"
	"github.com/joeycumines/go-cmdasync/internal/netio"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// ProtocolVersion is the base protocol version, returned by the V command.
const ProtocolVersion = `20040107`

// DefaultReadTimeout is the default for WithReadTimeout.
const DefaultReadTimeout = time.Millisecond

const (
	bufferSize = 8192

	replyError = `E1`
)

// supportedVersions are the protocol extensions recognised by VF.
var supportedVersions = map[string]struct{}{
	`20040107`: {},
	`20050322`: {},
	`20060704`: {},
	`20071116`: {},
	`20071218`: {},
	`20080403`: {},
	`20081102`: {},
	`20081224`: {},
	`20090810`: {},
}

var (
	errEmptyCommand   = errors.New(`ctlproto: empty command`)
	errMissingCommand = errors.New(`ctlproto: missing command after cookie`)
)

type (
	// StatsSource provides the data reported by the I command. It is
	// implemented by *cmdasync.Processor.
	StatsSource interface {
		CurrentLoad() float64
		Stats() cmdasync.Stats
	}

	// Handler implements cmdasync.CommandHandler.
	Handler struct {
		logger      *logiface.Logger[logiface.Event]
		queue       *netio.Queue
		source      atomic.Pointer[StatsSource]
		bufs        sync.Pool
		readTimeout time.Duration
		mode        cmdasync.Mode
	}

	// Option configures a Handler.
	Option func(h *Handler)

	request struct {
		received time.Time
		to       unix.Sockaddr
		err      error
		buf      *[]byte
		cookie   string
		verb     string
		reply    string
		args     []string
		fd       int
	}
)

var _ cmdasync.CommandHandler = (*Handler)(nil)

// WithLogger configures a logger, for received commands (at debug level),
// and failed replies.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithReadTimeout bounds the time spent waiting for a command on an accepted
// stream connection, which is rounded up to whole milliseconds. Connections
// that are still idle once it elapses are treated as having no command, and
// are closed. It should be a small fraction of the tick period, as the worker
// is blocked for the duration. Defaults to DefaultReadTimeout. Zero (or less)
// only reads a command that has already arrived.
func WithReadTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.readTimeout = d
	}
}

// NewHandler initializes a Handler for the given mode. The queue is required
// for cmdasync.ModePersistent, where it is used to send replies.
func NewHandler(mode cmdasync.Mode, queue *netio.Queue, options ...Option) (*Handler, error) {
	switch mode {
	case cmdasync.ModePerCommandAccept:
	case cmdasync.ModePersistent:
		if queue == nil {
			return nil, errors.New(`ctlproto: datagram mode requires a send queue`)
		}
	default:
		return nil, fmt.Errorf(`%w: %s`, cmdasync.ErrInvalidMode, mode)
	}
	h := &Handler{
		queue:       queue,
		readTimeout: DefaultReadTimeout,
		mode:        mode,
	}
	h.bufs.New = func() any {
		b := make([]byte, bufferSize)
		return &b
	}
	for _, o := range options {
		if o != nil {
			o(h)
		}
	}
	return h, nil
}

// Attach sets the source for the I command. It may be called at any time,
// typically immediately after the processor is created.
func (x *Handler) Attach(source StatsSource) {
	x.source.Store(&source)
}

// FetchCommand implements cmdasync.CommandHandler.
func (x *Handler) FetchCommand(fd int, now time.Time) (cmdasync.Command, bool) {
	buf := x.bufs.Get().(*[]byte)
	req := &request{received: now, buf: buf, fd: fd}

	var (
		n   int
		err error
	)
	if x.mode == cmdasync.ModePersistent {
		// empty datagrams carry no cookie, so cannot be answered
		for n == 0 && err == nil {
			n, req.to, err = unix.Recvfrom(fd, *buf, unix.MSG_DONTWAIT)
		}
		req.to = replyAddr(req.to)
	} else {
		var ready bool
		if ready, err = x.waitReadable(fd); ready {
			n, err = unix.Read(fd, *buf)
		} else if err == nil {
			x.logger.Debug().
				Int(`fd`, fd).
				Log(`control connection idle`)
		}
	}
	if err != nil || n <= 0 {
		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			x.logger.Warning().
				Int(`fd`, fd).
				Err(err).
				Log(`can't read from control socket`)
		}
		x.bufs.Put(buf)
		return nil, false
	}

	req.cookie, req.verb, req.args, req.err = parse(string((*buf)[:n]), x.mode == cmdasync.ModePersistent)
	x.logger.Debug().
		Int(`fd`, fd).
		Str(`cookie`, req.cookie).
		Str(`verb`, req.verb).
		Log(`received command`)
	return req, true
}

// ExecuteCommand implements cmdasync.CommandHandler. Datagram replies are
// queued for the pump, while stream replies are deferred to DisposeCommand,
// which is called without the global lock held.
func (x *Handler) ExecuteCommand(cmd cmdasync.Command) cmdasync.Outcome {
	req := cmd.(*request)
	reply, ok := x.dispatch(req)

	if x.mode == cmdasync.ModePersistent {
		if err := x.queue.Send(req.fd, []byte(req.cookie+` `+reply+"\n"), req.to); err != nil {
			x.logReplyError(req.fd, err)
			return cmdasync.OutcomeError
		}
	} else {
		req.reply = reply
	}

	switch {
	case !ok:
		return cmdasync.OutcomeError
	case x.mode == cmdasync.ModePersistent:
		// there may be more datagrams pending
		return cmdasync.OutcomeContinue
	default:
		return cmdasync.OutcomeTerminate
	}
}

// DisposeCommand implements cmdasync.CommandHandler.
func (x *Handler) DisposeCommand(cmd cmdasync.Command) {
	req := cmd.(*request)
	if req.reply != `` {
		if _, err := unix.Write(req.fd, []byte(req.reply+"\n")); err != nil {
			x.logReplyError(req.fd, err)
		}
		req.reply = ``
	}
	x.bufs.Put(req.buf)
	req.buf = nil
}

// waitReadable polls a stream connection for up to the read timeout. An
// interrupted poll is reported as not ready.
func (x *Handler) waitReadable(fd int) (bool, error) {
	var timeout int
	if x.readTimeout > 0 {
		timeout = int((x.readTimeout + time.Millisecond - 1) / time.Millisecond)
	}
	fds := [...]unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds[:], timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	// hangups and errors are left to the read
	return n > 0 && fds[0].Revents != 0, nil
}

func (x *Handler) logReplyError(fd int, err error) {
	x.logger.Err().
		Int(`fd`, fd).
		Err(err).
		Log(`failure sending reply`)
}

func (x *Handler) dispatch(req *request) (string, bool) {
	if req.err != nil {
		return replyError, false
	}
	switch req.verb {
	case `V`:
		if len(req.args) == 0 {
			return ProtocolVersion, true
		}
	case `VF`:
		if len(req.args) == 1 {
			if _, ok := supportedVersions[req.args[0]]; ok {
				return `1`, true
			}
			return `0`, true
		}
	case `P`:
		return `pong`, true
	case `I`:
		return x.info(), true
	}
	return replyError, false
}

func (x *Handler) info() string {
	p := x.source.Load()
	if p == nil {
		return `load=0.0000`
	}
	source := *p
	s := source.Stats()
	return fmt.Sprintf(
		`load=%.4f peak=%.4f cycles=%d commands=%d coalesced=%d`,
		source.CurrentLoad(),
		s.PeakLoad,
		s.Cycles,
		s.Commands,
		s.Coalesced,
	)
}

// parse splits a command line into its fields. The verb is upper cased. If
// hasCookie is true, the first field is the cookie.
func parse(line string, hasCookie bool) (cookie, verb string, args []string, err error) {
	fields := strings.Fields(line)
	if hasCookie {
		if len(fields) == 0 {
			return ``, ``, nil, errEmptyCommand
		}
		cookie, fields = fields[0], fields[1:]
		if len(fields) == 0 {
			return cookie, ``, nil, errMissingCommand
		}
	}
	if len(fields) == 0 {
		return cookie, ``, nil, errEmptyCommand
	}
	return cookie, strings.ToUpper(fields[0]), fields[1:], nil
}

// replyAddr returns nil for unnamed unix domain peers, which can only be
// replied to over a connected socket.
func replyAddr(from unix.Sockaddr) unix.Sockaddr {
	if sa, ok := from.(*unix.SockaddrUnix); ok && (sa.Name == `` || sa.Name == `@`) {
		return nil
	}
	return from
}
