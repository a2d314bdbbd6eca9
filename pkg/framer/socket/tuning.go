// Package socket applies TCP options to accepted connections and listeners.
//
// Options that a platform does not support are skipped. Only failures of the
// portable options are reported.
package socket

import (
	"errors"
	"net"
	"time"
)

// Options holds the TCP tuning for a server. Zero values keep the system
// default.
type Options struct {
	// NoDelay disables Nagle's algorithm.
	NoDelay bool

	// KeepAlivePeriod enables TCP keepalive with this period.
	KeepAlivePeriod time.Duration

	// RecvBuffer and SendBuffer size the kernel socket buffers in bytes.
	RecvBuffer int
	SendBuffer int

	// QuickAck asks for immediate ACKs (Linux only).
	QuickAck bool

	// DeferAccept delays accept until data arrives or the period expires
	// (Linux only; applied to listeners).
	DeferAccept time.Duration
}

// DefaultOptions suits request/response traffic with small heads.
func DefaultOptions() Options {
	return Options{
		NoDelay:         true,
		KeepAlivePeriod: 60 * time.Second,
		QuickAck:        true,
		DeferAccept:     5 * time.Second,
	}
}

// Apply tunes conn. Connections that are not TCP are left alone.
func Apply(conn net.Conn, opts Options) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	var errs []error
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		errs = append(errs, err)
	}
	if opts.KeepAlivePeriod > 0 {
		if err := tc.SetKeepAlivePeriod(opts.KeepAlivePeriod); err != nil {
			errs = append(errs, err)
		}
		if err := tc.SetKeepAlive(true); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.RecvBuffer > 0 {
		if err := tc.SetReadBuffer(opts.RecvBuffer); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.SendBuffer > 0 {
		if err := tc.SetWriteBuffer(opts.SendBuffer); err != nil {
			errs = append(errs, err)
		}
	}

	raw, err := tc.SyscallConn()
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	_ = raw.Control(func(fd uintptr) {
		applyConnOptions(int(fd), opts)
	})
	return errors.Join(errs...)
}

// ApplyListener sets listener-level options. It must be called before the
// first Accept.
func ApplyListener(ln net.Listener, opts Options) error {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil
	}
	raw, err := tl.SyscallConn()
	if err != nil {
		return err
	}
	var optErr error
	if err := raw.Control(func(fd uintptr) {
		optErr = applyListenerOptions(int(fd), opts)
	}); err != nil {
		return err
	}
	return optErr
}
