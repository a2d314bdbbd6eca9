package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/http11"
)

// Default limits for section header blocks.
const (
	DefaultHeadersCountLimit  = 16
	DefaultHeadersLengthLimit = 16 * 1024
)

// maxTransportPadding bounds the whitespace accepted between a delimiter and
// its CRLF.
const maxTransportPadding = 100

var (
	// ErrInvalidData wraps every malformed-body error reported by a Reader.
	ErrInvalidData = errors.New("multipart: invalid data")

	// ErrReaderClosed is returned after Close.
	ErrReaderClosed = errors.New("multipart: reader closed")
)

// Options configures a Reader. Zero values select the defaults.
type Options struct {
	// HeadersCountLimit bounds the number of header lines per section.
	HeadersCountLimit int

	// HeadersLengthLimit bounds the header block size per section. It also
	// bounds the preamble and the epilogue.
	HeadersLengthLimit int

	// BodyLengthLimit bounds each section body. Zero means unlimited.
	BodyLengthLimit int64

	// BufferSize is the scanner buffer size. It is raised to fit the
	// delimiter, its trailing two bytes and the transport padding.
	BufferSize int

	// Pool supplies the scanner buffer. Nil means framer.DefaultPool().
	Pool *framer.BufferPool
}

// minBufferSize is the smallest scanner buffer that holds a full delimiter
// line for boundary: CRLF, "--", the boundary, "--" or padding, then CRLF.
func minBufferSize(boundary string) int {
	return len("\r\n--") + len(boundary) + 2 + maxTransportPadding + 2
}

func (o Options) withDefaults() Options {
	if o.HeadersCountLimit <= 0 {
		o.HeadersCountLimit = DefaultHeadersCountLimit
	}
	if o.HeadersLengthLimit <= 0 {
		o.HeadersLengthLimit = DefaultHeadersLengthLimit
	}
	if o.BufferSize <= 0 {
		o.BufferSize = http11.DefaultScannerBufferSize
	}
	return o
}

// Section is one part of a multipart body.
type Section struct {
	Header *http11.Header

	// Body yields the section bytes up to the next delimiter. It is valid
	// until the next call to NextSection.
	Body io.Reader

	// BaseOffset is the position of the first body byte in the source. It is
	// only meaningful when HasBaseOffset is set, which requires a seekable
	// source.
	BaseOffset    int64
	HasBaseOffset bool
}

// ContentType returns the section's Content-Type value.
func (s *Section) ContentType() string { return s.Header.Get("Content-Type") }

// ContentDisposition is a parsed Content-Disposition header.
type ContentDisposition struct {
	Type   string
	Params map[string]string
}

// Name returns the form field name.
func (d ContentDisposition) Name() string { return d.Params["name"] }

// FileName returns the file name, decoding RFC 2231 "filename*" when present.
func (d ContentDisposition) FileName() string { return d.Params["filename"] }

// IsFile reports whether the section carries a file upload.
func (d ContentDisposition) IsFile() bool {
	_, ok := d.Params["filename"]
	return ok
}

// ContentDisposition parses the section's Content-Disposition header.
func (s *Section) ContentDisposition() (ContentDisposition, error) {
	v := s.Header.Get("Content-Disposition")
	if v == "" {
		return ContentDisposition{}, fmt.Errorf("%w: missing Content-Disposition", ErrInvalidData)
	}
	typ, params, err := mime.ParseMediaType(v)
	if err != nil {
		return ContentDisposition{}, fmt.Errorf("%w: Content-Disposition: %v", ErrInvalidData, err)
	}
	return ContentDisposition{Type: typ, Params: params}, nil
}

// Reader iterates over the sections of a multipart body. It is not safe
// for concurrent use.
type Reader struct {
	s        *http11.Scanner
	boundary *Boundary
	opts     Options
	headers  *http11.HeaderParser

	current  *sectionReader
	preamble bool
	done     bool
	err      error

	seekable  bool
	startBase int64
}

// NewReader returns a Reader with default options.
func NewReader(r io.Reader, boundary string) *Reader {
	return NewReaderOptions(r, boundary, Options{})
}

// NewReaderOptions returns a Reader over r. The first delimiter may appear
// without a leading CRLF.
func NewReaderOptions(r io.Reader, boundary string, opts Options) *Reader {
	opts = opts.withDefaults()
	if n := minBufferSize(boundary); opts.BufferSize < n {
		opts.BufferSize = n
	}
	mr := &Reader{
		s:        http11.NewScannerSize(r, opts.BufferSize, opts.Pool),
		boundary: NewBoundary(boundary, false),
		opts:     opts,
		headers:  http11.NewHeaderParser(opts.HeadersLengthLimit, opts.HeadersCountLimit),
		preamble: true,
	}
	if seeker, ok := r.(io.Seeker); ok {
		if pos, err := seeker.Seek(0, io.SeekCurrent); err == nil {
			mr.seekable = true
			mr.startBase = pos
		}
	}
	mr.current = mr.newSection(context.Background(), int64(opts.HeadersLengthLimit))
	return mr
}

// Boundary returns the delimiter currently searched for.
func (r *Reader) Boundary() *Boundary { return r.boundary }

// NextSection skips the rest of the current section and returns the next
// one. After the closing delimiter it drains the epilogue and returns
// io.EOF.
func (r *Reader) NextSection(ctx context.Context) (*Section, error) {
	if r.s == nil {
		return nil, ErrReaderClosed
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.done {
		return nil, io.EOF
	}

	cur := r.current
	cur.ctx = ctx
	if _, err := io.Copy(io.Discard, cur); err != nil {
		return nil, r.fail(err)
	}

	if cur.final {
		r.done = true
		if err := r.drainEpilogue(ctx); err != nil {
			return nil, r.fail(err)
		}
		return nil, io.EOF
	}

	if r.preamble {
		r.preamble = false
		r.boundary = r.boundary.WithLeadingCRLF(true)
	}

	h, err := r.headers.Parse(ctx, r.s)
	if err != nil {
		if reason, ok := http11.ReasonOf(err); ok {
			err = fmt.Errorf("%w: section headers: %s", ErrInvalidData, reason)
		}
		return nil, r.fail(err)
	}

	r.current = r.newSection(ctx, r.opts.BodyLengthLimit)
	return &Section{
		Header:        h,
		Body:          r.current,
		BaseOffset:    r.startBase + r.s.Offset(),
		HasBaseOffset: r.seekable,
	}, nil
}

// Close releases the scanner buffer. Section bodies become unusable.
func (r *Reader) Close() error {
	if r.s != nil {
		r.s.Release()
		r.s = nil
	}
	return nil
}

func (r *Reader) newSection(ctx context.Context, limit int64) *sectionReader {
	return &sectionReader{ctx: ctx, s: r.s, boundary: r.boundary, limit: limit}
}

// fail records err unless it is a cancellation, which may be retried.
func (r *Reader) fail(err error) error {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.err = err
	}
	return err
}

func (r *Reader) drainEpilogue(ctx context.Context) error {
	var buf [512]byte
	limit := r.opts.HeadersLengthLimit
	total := 0
	for {
		n, err := r.s.ReadContext(ctx, buf[:])
		total += n
		if total > limit {
			return fmt.Errorf("%w: epilogue exceeds %d bytes", ErrInvalidData, limit)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// sectionReader yields bytes up to the next delimiter. Bytes that might be
// the start of a delimiter are held back until enough input arrives to
// decide.
type sectionReader struct {
	ctx      context.Context
	s        *http11.Scanner
	boundary *Boundary
	limit    int64

	read     int64
	finished bool
	final    bool
	err      error
}

func (sr *sectionReader) Read(p []byte) (int, error) {
	if sr.finished {
		return 0, io.EOF
	}
	if sr.err != nil {
		return 0, sr.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if sr.s == nil {
		return 0, ErrReaderClosed
	}

	n, err := sr.readData(p)
	sr.read += int64(n)
	if err == nil && sr.limit > 0 && sr.read > sr.limit {
		err = fmt.Errorf("%w: section exceeds %d bytes", ErrInvalidData, sr.limit)
	}
	if err != nil && err != io.EOF &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		sr.err = err
	}
	return n, err
}

func (sr *sectionReader) readData(p []byte) (int, error) {
	keep := sr.boundary.Len() - 1
	for {
		data := sr.s.Buffered()
		if len(data) == 0 {
			if err := sr.s.Fill(sr.ctx); err != nil {
				return 0, truncated(err)
			}
			continue
		}

		if idx := sr.boundary.Index(data); idx > 0 {
			n := copy(p, data[:idx])
			sr.s.Discard(n)
			return n, nil
		} else if idx == 0 {
			ok, err := sr.consumeDelimiter()
			if err != nil {
				return 0, err
			}
			if ok {
				sr.finished = true
				return 0, io.EOF
			}
			// A delimiter lookalike; its first byte is data.
			p[0] = sr.s.Buffered()[0]
			sr.s.Discard(1)
			return 1, nil
		}

		if safe := len(data) - keep; safe > 0 {
			n := copy(p, data[:safe])
			sr.s.Discard(n)
			return n, nil
		}
		if err := sr.s.Fill(sr.ctx); err != nil {
			return 0, truncated(err)
		}
	}
}

// consumeDelimiter inspects the bytes after a pattern match at the head of
// the buffer. It consumes the delimiter and reports true when the match is
// followed by "--", CRLF, or transport padding and CRLF.
func (sr *sectionReader) consumeDelimiter() (bool, error) {
	n := sr.boundary.Len()
	b, err := sr.s.Peek(sr.ctx, n+2)
	if err != nil {
		return false, truncated(err)
	}
	switch {
	case b[n] == '-' && b[n+1] == '-':
		sr.s.Discard(n + 2)
		sr.final = true
		return true, nil
	case b[n] == '\r' && b[n+1] == '\n':
		sr.s.Discard(n + 2)
		return true, nil
	case b[n] != ' ' && b[n] != '\t':
		return false, nil
	}

	for i := n; i-n <= maxTransportPadding && i+2 <= sr.s.Size(); i++ {
		b, err = sr.s.Peek(sr.ctx, i+2)
		if err != nil {
			return false, truncated(err)
		}
		switch {
		case b[i] == ' ' || b[i] == '\t':
			continue
		case b[i] == '\r' && b[i+1] == '\n':
			sr.s.Discard(i + 2)
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

func truncated(err error) error {
	if err == io.EOF {
		return fmt.Errorf("%w: unexpected end of stream", ErrInvalidData)
	}
	return err
}
