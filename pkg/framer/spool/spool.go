// Package spool makes a forward-only body stream seekable. Bytes are kept in
// a pooled buffer until a threshold is crossed, then moved to a temporary
// file on an afero.Fs. The move happens at most once.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/yourusername/framer/pkg/framer"
)

// DefaultMemoryThreshold is the largest body kept in memory.
const DefaultMemoryThreshold = framer.BufferSize32KB

// DefaultPrefix starts every temp file name.
const DefaultPrefix = "framer"

var (
	// ErrNotFullyBuffered is returned when seeking past the buffered bytes,
	// or relative to the end, before the source is exhausted.
	ErrNotFullyBuffered = errors.New("spool: source not fully buffered")

	// ErrNotWritable is returned by Write.
	ErrNotWritable = errors.New("spool: stream is read-only")

	// ErrBufferLimitExceeded is returned when the source is longer than
	// Options.BufferLimit.
	ErrBufferLimitExceeded = errors.New("spool: buffer limit exceeded")

	// ErrNegativePosition is returned by Seek for targets before the start.
	ErrNegativePosition = errors.New("spool: negative position")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("spool: closed")
)

// Mode tells where buffered bytes live.
type Mode int

const (
	InMemory Mode = iota
	OnDisk
)

func (m Mode) String() string {
	if m == OnDisk {
		return "on-disk"
	}
	return "in-memory"
}

// Options configures a Spool. Zero values select the defaults.
type Options struct {
	// MemoryThreshold is the number of bytes kept in memory before
	// moving to disk.
	MemoryThreshold int

	// BufferLimit bounds the total buffered size. Zero means unlimited.
	BufferLimit int64

	// TempDir resolves the directory for the temp file. It is called once,
	// when the spool moves to disk. Nil means os.TempDir.
	TempDir func() string

	// Prefix starts the temp file name: <prefix>_<uuid>.tmp.
	Prefix string

	// Fs holds the temp file. Nil means the OS filesystem.
	Fs afero.Fs

	// Pool supplies the in-memory buffer. Nil means framer.DefaultPool().
	Pool *framer.BufferPool

	Logger logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MemoryThreshold <= 0 {
		o.MemoryThreshold = DefaultMemoryThreshold
	}
	if o.TempDir == nil {
		o.TempDir = os.TempDir
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Pool == nil {
		o.Pool = framer.DefaultPool()
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

// Spool is a seekable, read-only view of a source stream. It is not safe
// for concurrent use.
type Spool struct {
	src  io.Reader
	opts Options

	// in memory: mem[:length] is either the lease's buffer or a growable
	// slice when the threshold is larger than any pooled class
	lease framer.Lease
	mem   []byte

	file afero.File
	path string

	mode     Mode
	length   int64
	pos      int64
	complete bool
	closed   bool
	err      error // sticky source error
}

// New returns a Spool reading from src.
func New(src io.Reader, opts Options) *Spool {
	return &Spool{src: src, opts: opts.withDefaults()}
}

// Mode reports where the buffered bytes currently live.
func (s *Spool) Mode() Mode { return s.mode }

// InMemory reports whether no temp file has been created.
func (s *Spool) InMemory() bool { return s.mode == InMemory }

// Len returns the number of bytes buffered so far.
func (s *Spool) Len() int64 { return s.length }

// Complete reports whether the source has been read to EOF.
func (s *Spool) Complete() bool { return s.complete }

// Path returns the temp file path, or "" while in memory.
func (s *Spool) Path() string { return s.path }

// Read reads buffered bytes at the current position, pulling from the
// source once the position reaches the end of the buffered data.
func (s *Spool) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.pos < s.length {
		n, err := s.readBuffered(p)
		s.pos += int64(n)
		return n, err
	}
	if s.pos > s.length || s.complete {
		return 0, io.EOF
	}
	if s.err != nil {
		return 0, s.err
	}

	n, err := s.src.Read(p)
	if n > 0 {
		if aerr := s.append(p[:n]); aerr != nil {
			s.err = aerr
			return 0, aerr
		}
		s.pos += int64(n)
	}
	switch {
	case err == io.EOF:
		s.complete = true
		if n > 0 {
			return n, nil
		}
		return 0, io.EOF
	case err != nil:
		s.err = err
		if n > 0 {
			return n, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *Spool) readBuffered(p []byte) (int, error) {
	if avail := s.length - s.pos; int64(len(p)) > avail {
		p = p[:avail]
	}
	if s.mode == InMemory {
		return copy(p, s.mem[s.pos:s.length]), nil
	}
	n, err := s.file.ReadAt(p, s.pos)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	return n, err
}

// append stores source bytes, moving to disk when the threshold would be
// crossed.
func (s *Spool) append(b []byte) error {
	next := s.length + int64(len(b))
	if s.opts.BufferLimit > 0 && next > s.opts.BufferLimit {
		return fmt.Errorf("%w: more than %d bytes", ErrBufferLimitExceeded, s.opts.BufferLimit)
	}

	if s.mode == InMemory && next > int64(s.opts.MemoryThreshold) {
		if err := s.moveToDisk(); err != nil {
			return err
		}
	}

	if s.mode == OnDisk {
		if _, err := s.file.WriteAt(b, s.length); err != nil {
			return fmt.Errorf("spool: writing %s: %w", s.path, err)
		}
		s.length = next
		return nil
	}

	if s.mem == nil {
		s.allocate()
	}
	if int64(cap(s.mem)) < next {
		// Only unpooled buffers grow; a lease always covers the threshold.
		s.mem = append(s.mem[:s.length], b...)
	} else {
		s.mem = s.mem[:next]
		copy(s.mem[s.length:], b)
	}
	s.length = next
	return nil
}

func (s *Spool) allocate() {
	if s.opts.MemoryThreshold <= framer.MaxPooledSize {
		s.lease = s.opts.Pool.Rent(s.opts.MemoryThreshold)
		s.mem = s.lease.Bytes()[:0]
		return
	}
	s.mem = make([]byte, 0, framer.BufferSize4KB)
}

func (s *Spool) moveToDisk() error {
	dir := s.opts.TempDir()
	path := filepath.Join(dir, s.opts.Prefix+"_"+uuid.NewString()+".tmp")
	f, err := s.opts.Fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("spool: creating temp file: %w", err)
	}
	if s.length > 0 {
		if _, err := f.Write(s.mem[:s.length]); err != nil {
			_ = f.Close()
			_ = s.opts.Fs.Remove(path)
			return fmt.Errorf("spool: writing %s: %w", path, err)
		}
	}

	s.file, s.path, s.mode = f, path, OnDisk
	s.releaseMemory()
	s.opts.Logger.WithFields(logrus.Fields{
		"path":     path,
		"buffered": s.length,
	}).Debug("Body spooled to disk")
	return nil
}

func (s *Spool) releaseMemory() {
	if s.lease.Valid() {
		_ = s.lease.Release()
	}
	s.lease = framer.Lease{}
	s.mem = nil
}

// Seek sets the position. Positions past the buffered bytes, and offsets
// relative to the end, need the source to be fully buffered.
func (s *Spool) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		if !s.complete {
			return s.pos, ErrNotFullyBuffered
		}
		target = s.length + offset
	default:
		return s.pos, fmt.Errorf("spool: invalid whence %d", whence)
	}

	if target < 0 {
		return s.pos, ErrNegativePosition
	}
	if target > s.length && !s.complete {
		return s.pos, ErrNotFullyBuffered
	}
	s.pos = target
	return target, nil
}

// Write always fails.
func (s *Spool) Write([]byte) (int, error) { return 0, ErrNotWritable }

// BufferAll reads the rest of the source without moving the position.
func (s *Spool) BufferAll(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	saved := s.pos
	s.pos = s.length
	defer func() { s.pos = saved }()

	scratch := s.opts.Pool.Rent(framer.BufferSize4KB)
	defer scratch.Release()
	buf := scratch.Bytes()

	for !s.complete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Read(buf); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close releases the memory buffer and removes the temp file.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseMemory()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	if rerr := s.opts.Fs.Remove(s.path); rerr != nil && err == nil {
		err = rerr
	}
	s.file = nil
	return err
}

var _ io.ReadSeekCloser = (*Spool)(nil)
