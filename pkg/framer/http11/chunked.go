package http11

import (
	"context"
	"errors"
	"io"
	"strconv"
)

// ChunkedReader decodes a chunked transfer-coded body (RFC 7230 §4.1).
//
//	chunk          = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
//	chunk-size     = 1*HEXDIG
//	last-chunk     = 1*("0") [ chunk-ext ] CRLF
//	trailer        = *( field-line CRLF )
//	chunked-body   = *chunk last-chunk trailer CRLF
//
// Example:
//
//	4\r\n
//	Wiki\r\n
//	5\r\n
//	pedia\r\n
//	0\r\n
//	\r\n
//
// Chunk extensions are parsed past and ignored. Trailers are read with the
// request header rules and exposed through Trailer once Read has returned
// io.EOF. The first error is sticky.
type ChunkedReader struct {
	s   *Scanner
	ctx context.Context

	remaining uint64 // bytes left in the current chunk
	needCRLF  bool   // current chunk's data consumed, suffix pending
	done      bool
	err       error

	maxLineLength int
	maxChunkSize  uint64
	trailers      *HeaderParser
	trailer       *Header

	total uint64
}

// NewChunkedReader returns a ChunkedReader over s using the default limits.
func NewChunkedReader(s *Scanner) *ChunkedReader {
	return NewChunkedReaderContext(context.Background(), s, DefaultLimits())
}

// NewChunkedReaderContext returns a ChunkedReader whose reads observe ctx and
// whose chunk-size lines, chunk sizes and trailers are bounded by limits.
func NewChunkedReaderContext(ctx context.Context, s *Scanner, limits Limits) *ChunkedReader {
	limits = limits.withDefaults()
	return &ChunkedReader{
		s:             s,
		ctx:           ctx,
		maxLineLength: limits.MaxChunkSizeLineLength,
		maxChunkSize:  uint64(limits.MaxChunkSize),
		trailers:      NewHeaderParser(limits.MaxRequestHeadersTotalSize, limits.MaxRequestHeaderCount),
	}
}

// Read implements io.Reader.
func (cr *ChunkedReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for cr.remaining == 0 {
		if cr.needCRLF {
			if err := cr.readSuffix(); err != nil {
				return 0, cr.fail(err)
			}
			cr.needCRLF = false
		}
		if err := cr.readChunkSize(); err != nil {
			return 0, cr.fail(err)
		}
		if cr.done {
			cr.err = io.EOF
			return 0, io.EOF
		}
	}

	if uint64(len(p)) > cr.remaining {
		p = p[:cr.remaining]
	}
	n, err := cr.s.ReadContext(cr.ctx, p)
	cr.remaining -= uint64(n)
	cr.total += uint64(n)
	if err != nil {
		if err == io.EOF {
			err = Reject(ChunkedRequestIncomplete)
		}
		return n, cr.fail(err)
	}
	if cr.remaining == 0 {
		cr.needCRLF = true
	}
	return n, nil
}

func (cr *ChunkedReader) fail(err error) error {
	// Cancellation is not sticky; the body may be resumed with a fresh reader.
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		cr.err = err
	}
	return err
}

// readChunkSize reads "hex-size [ BWS ] [ ; ext ] CRLF". A zero size consumes
// the trailer section as well.
func (cr *ChunkedReader) readChunkSize() error {
	line, err := cr.s.ReadLineContext(cr.ctx, cr.maxLineLength)
	if err != nil {
		switch {
		case errors.Is(err, ErrLineTooLong):
			return Reject(BadChunkSizeData)
		case err == io.EOF, err == io.ErrUnexpectedEOF:
			return Reject(ChunkedRequestIncomplete)
		}
		return err
	}
	size, err := parseChunkSizeLine(line, cr.maxChunkSize)
	if err != nil {
		return err
	}
	if size > 0 {
		cr.remaining = size
		return nil
	}

	trailer, err := cr.trailers.Parse(cr.ctx, cr.s)
	if err != nil {
		if errors.Is(err, Reject(UnexpectedEndOfRequestContent)) {
			return Reject(ChunkedRequestIncomplete)
		}
		return err
	}
	cr.trailer = trailer
	cr.done = true
	return nil
}

// parseChunkSizeLine parses a chunk-size line with its LF removed.
func parseChunkSizeLine(line []byte, maxChunkSize uint64) (uint64, error) {
	if len(line) == 0 || line[len(line)-1] != '\r' {
		return 0, Reject(BadChunkSizeData)
	}
	line = line[:len(line)-1]

	var size uint64
	i := 0
	for ; i < len(line); i++ {
		v, ok := hexValue(line[i])
		if !ok {
			break
		}
		// Checked before the shift so that long sizes cannot wrap.
		if size > maxChunkSize>>4 {
			return 0, Reject(BadChunkSizeData)
		}
		size = size<<4 | uint64(v)
		if size > maxChunkSize {
			return 0, Reject(BadChunkSizeData)
		}
	}
	if i == 0 {
		return 0, Reject(BadChunkSizeData)
	}
	for i < len(line) && isSpaceOrTab(line[i]) {
		i++
	}
	if i < len(line) && line[i] != ';' {
		return 0, Reject(BadChunkSizeData)
	}
	return size, nil
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// readSuffix consumes the CRLF that follows chunk data.
func (cr *ChunkedReader) readSuffix() error {
	b, err := cr.s.Peek(cr.ctx, 2)
	if err != nil {
		if err == io.EOF {
			if len(b) > 0 && b[0] != '\r' {
				return Reject(BadChunkSuffix)
			}
			return Reject(ChunkedRequestIncomplete)
		}
		return err
	}
	if b[0] != '\r' || b[1] != '\n' {
		return Reject(BadChunkSuffix)
	}
	cr.s.Discard(2)
	return nil
}

// Trailer returns the trailer fields. It is nil until Read returned io.EOF.
func (cr *ChunkedReader) Trailer() *Header {
	return cr.trailer
}

// TotalRead returns the number of data bytes decoded so far.
func (cr *ChunkedReader) TotalRead() uint64 {
	return cr.total
}

// ChunkedEncoder writes a chunked transfer-coded body. Each Write becomes one
// chunk; Close writes the last chunk and trailer section. It does not close
// the underlying writer.
type ChunkedEncoder struct {
	w      io.Writer
	closed bool
	hex    [16]byte
}

// NewChunkedEncoder returns a ChunkedEncoder writing to w.
func NewChunkedEncoder(w io.Writer) *ChunkedEncoder {
	return &ChunkedEncoder{w: w}
}

// Write emits p as a single chunk. Empty writes emit nothing, since a
// zero-size chunk would terminate the body.
func (ce *ChunkedEncoder) Write(p []byte) (int, error) {
	if ce.closed {
		return 0, io.ErrClosedPipe
	}
	if len(p) == 0 {
		return 0, nil
	}
	size := strconv.AppendUint(ce.hex[:0], uint64(len(p)), 16)
	if _, err := ce.w.Write(size); err != nil {
		return 0, err
	}
	if _, err := ce.w.Write(crlfBytes); err != nil {
		return 0, err
	}
	n, err := ce.w.Write(p)
	if err != nil {
		return n, err
	}
	if _, err := ce.w.Write(crlfBytes); err != nil {
		return n, err
	}
	return n, nil
}

// Close writes the last chunk with no trailers.
func (ce *ChunkedEncoder) Close() error {
	return ce.CloseWithTrailer(nil)
}

// CloseWithTrailer writes the last chunk followed by trailer.
func (ce *ChunkedEncoder) CloseWithTrailer(trailer *Header) error {
	if ce.closed {
		return nil
	}
	ce.closed = true
	if _, err := io.WriteString(ce.w, "0\r\n"); err != nil {
		return err
	}
	if trailer != nil {
		if _, err := trailer.WriteTo(ce.w); err != nil {
			return err
		}
	}
	_, err := ce.w.Write(crlfBytes)
	return err
}
