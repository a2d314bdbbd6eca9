package http11

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"github.com/yourusername/framer/pkg/framer"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
const maxEmptyReads = 100

// aLongTimeAgo is a deadline in the past used to unblock pending reads.
var aLongTimeAgo = time.Unix(1, 0)

// readDeadliner is implemented by net.Conn and *os.File.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Scanner is a cursor over a byte source with bounded look-ahead.
//
// It reads lines and raw bytes without over-reading: bytes that were read
// from the source but not consumed stay buffered and are handed to whatever
// reads from the Scanner next (header parser, chunked decoder, multipart
// reader). The buffer is rented from the process-wide pool and returned by
// Release.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	src   io.Reader
	lease framer.Lease
	buf   []byte
	r, w  int

	// line collects a line that does not fit in the unread part of buf
	line []byte

	offset int64 // bytes consumed by callers
	err    error // sticky source error, returned once buf is drained
}

// NewScanner returns a Scanner with a DefaultScannerBufferSize buffer from the
// global pool.
func NewScanner(src io.Reader) *Scanner {
	return NewScannerSize(src, DefaultScannerBufferSize, nil)
}

// NewScannerSize returns a Scanner whose buffer holds size bytes, rented from
// pool (nil means the global pool).
func NewScannerSize(src io.Reader, size int, pool *framer.BufferPool) *Scanner {
	if pool == nil {
		pool = framer.DefaultPool()
	}
	if size < 16 {
		size = 16
	}
	lease := pool.Rent(size)
	return &Scanner{src: src, lease: lease, buf: lease.Bytes()}
}

// Release returns the buffer to the pool. It is safe to call more than once;
// the lease itself is released exactly once.
func (s *Scanner) Release() {
	if s.buf == nil {
		return
	}
	s.buf = nil
	s.r, s.w = 0, 0
	s.line = nil
	_ = s.lease.Release()
}

// Size returns the capacity of the look-ahead buffer.
func (s *Scanner) Size() int { return len(s.buf) }

// Offset returns the number of bytes consumed from the source so far.
func (s *Scanner) Offset() int64 { return s.offset }

// Buffered returns the unread bytes currently held. The slice is valid until
// the next call that reads or discards.
func (s *Scanner) Buffered() []byte {
	if s.buf == nil {
		return nil
	}
	return s.buf[s.r:s.w]
}

// Discard consumes n buffered bytes. n is clamped to Buffered.
func (s *Scanner) Discard(n int) int {
	if n > s.w-s.r {
		n = s.w - s.r
	}
	if n < 0 {
		n = 0
	}
	s.r += n
	s.offset += int64(n)
	return n
}

// ReadLine returns the next line with its LF removed. A CR preceding the LF
// is kept so callers can tell CRLF from a bare LF. maxLength bounds the whole
// line including its terminator; longer lines fail with ErrLineTooLong rather
// than being truncated.
//
// At end of stream with nothing pending ReadLine returns io.EOF; with a
// partial line pending it returns io.ErrUnexpectedEOF.
//
// The returned slice is valid until the next call on the Scanner.
func (s *Scanner) ReadLine(maxLength int) ([]byte, error) {
	return s.ReadLineContext(context.Background(), maxLength)
}

// ReadLineContext is ReadLine with cancellation. When the source supports
// read deadlines, cancelling ctx unblocks a read in progress. A line that was
// partially read when ctx was cancelled is discarded.
func (s *Scanner) ReadLineContext(ctx context.Context, maxLength int) ([]byte, error) {
	if s.buf == nil {
		return nil, ErrScannerReleased
	}
	s.line = s.line[:0]

	for {
		if i := bytes.IndexByte(s.buf[s.r:s.w], '\n'); i >= 0 {
			seg := s.buf[s.r : s.r+i+1]
			if len(s.line)+len(seg) > maxLength {
				return nil, ErrLineTooLong
			}
			s.r += len(seg)
			s.offset += int64(len(seg))
			if len(s.line) == 0 {
				return seg[:len(seg)-1], nil
			}
			s.line = append(s.line, seg...)
			return s.line[:len(s.line)-1], nil
		}

		// Even if the next byte is LF the line would be too long.
		pending := s.w - s.r
		if len(s.line)+pending >= maxLength {
			return nil, ErrLineTooLong
		}
		if pending > 0 {
			s.line = append(s.line, s.buf[s.r:s.w]...)
			s.offset += int64(pending)
			s.r = s.w
		}

		if err := s.fill(ctx); err != nil {
			if err == io.EOF {
				if len(s.line) == 0 {
					return nil, io.EOF
				}
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Peek returns the next n bytes without consuming them, reading from the
// source as needed. If the source ends first, Peek returns the bytes that are
// available together with io.EOF.
func (s *Scanner) Peek(ctx context.Context, n int) ([]byte, error) {
	if s.buf == nil {
		return nil, ErrScannerReleased
	}
	if n > len(s.buf) {
		return s.buf[s.r:s.w], ErrBufferFull
	}
	for s.w-s.r < n {
		if err := s.fill(ctx); err != nil {
			return s.buf[s.r:s.w], err
		}
	}
	return s.buf[s.r : s.r+n], nil
}

// Fill reads more bytes from the source into the buffer. It returns
// ErrBufferFull when no room is left.
func (s *Scanner) Fill(ctx context.Context) error {
	if s.buf == nil {
		return ErrScannerReleased
	}
	return s.fill(ctx)
}

// Read implements io.Reader. Buffered bytes are returned first; large reads
// with an empty buffer go straight to the source.
func (s *Scanner) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation.
func (s *Scanner) ReadContext(ctx context.Context, p []byte) (int, error) {
	if s.buf == nil {
		return 0, ErrScannerReleased
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.r == s.w {
		if s.err != nil {
			return 0, s.err
		}
		if len(p) >= len(s.buf) {
			n, err := s.readSource(ctx, p)
			s.offset += int64(n)
			return n, err
		}
		if err := s.fill(ctx); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.buf[s.r:s.w])
	s.r += n
	s.offset += int64(n)
	return n, nil
}

// fill compacts the buffer and reads at least one byte from the source.
func (s *Scanner) fill(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	if s.r > 0 {
		copy(s.buf, s.buf[s.r:s.w])
		s.w -= s.r
		s.r = 0
	}
	if s.w == len(s.buf) {
		return ErrBufferFull
	}

	n, err := s.readSource(ctx, s.buf[s.w:])
	s.w += n
	if err != nil && n > 0 {
		// Keep the data; the error is reported once it is consumed.
		return nil
	}
	return err
}

// readSource performs one logical read from the source, retrying empty reads
// and translating timeouts. Errors other than cancellation are sticky.
func (s *Scanner) readSource(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.err != nil {
		return 0, s.err
	}
	stop := watchContext(ctx, s.src)
	defer stop()

	for i := 0; i < maxEmptyReads; i++ {
		n, err := s.src.Read(p)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return n, cerr
			}
			if isTimeout(err) {
				err = Reject(RequestTimeout)
			}
			s.err = err
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
	s.err = io.ErrNoProgress
	return 0, s.err
}

// watchContext arranges for a pending read on src to be interrupted when ctx
// is cancelled. The returned func must be called once the read is done.
func watchContext(ctx context.Context, src io.Reader) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	d, ok := src.(readDeadliner)
	if !ok {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = d.SetReadDeadline(aLongTimeAgo)
	})
	return func() { stop() }
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
