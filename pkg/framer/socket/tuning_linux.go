//go:build linux

package socket

import (
	"golang.org/x/sys/unix"
)

// TCP_QUICKACK is not sticky; the kernel may fall back to delayed ACKs after
// the first exchange.
func applyConnOptions(fd int, opts Options) {
	if opts.QuickAck {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}
}

func applyListenerOptions(fd int, opts Options) error {
	if opts.DeferAccept <= 0 {
		return nil
	}
	secs := int(opts.DeferAccept.Seconds())
	if secs < 1 {
		secs = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, secs)
}
