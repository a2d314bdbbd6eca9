package http11

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Limits bounds the request head and chunked framing.
type Limits struct {
	MaxRequestLineSize         int
	MaxRequestHeadersTotalSize int
	MaxRequestHeaderCount      int
	MaxChunkSizeLineLength     int
	MaxChunkSize               int64
}

// DefaultLimits returns the default request limits.
func DefaultLimits() Limits {
	return Limits{
		MaxRequestLineSize:         DefaultMaxRequestLineSize,
		MaxRequestHeadersTotalSize: DefaultMaxRequestHeadersTotalSize,
		MaxRequestHeaderCount:      DefaultMaxRequestHeaderCount,
		MaxChunkSizeLineLength:     DefaultMaxChunkSizeLineLength,
		MaxChunkSize:               DefaultMaxChunkSize,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxRequestLineSize <= 0 {
		l.MaxRequestLineSize = d.MaxRequestLineSize
	}
	if l.MaxRequestHeadersTotalSize <= 0 {
		l.MaxRequestHeadersTotalSize = d.MaxRequestHeadersTotalSize
	}
	if l.MaxRequestHeaderCount <= 0 {
		l.MaxRequestHeaderCount = d.MaxRequestHeaderCount
	}
	if l.MaxChunkSizeLineLength <= 0 {
		l.MaxChunkSizeLineLength = d.MaxChunkSizeLineLength
	}
	if l.MaxChunkSize <= 0 {
		l.MaxChunkSize = d.MaxChunkSize
	}
	return l
}

// Framing describes how a message body is delimited.
type Framing struct {
	// ContentLength is the declared length, -1 when absent.
	ContentLength int64
	Chunked       bool
}

// HasBody reports whether the framing carries a body.
func (f Framing) HasBody() bool {
	return f.Chunked || f.ContentLength > 0
}

// DetermineFraming inspects Transfer-Encoding and Content-Length.
//
// Both present is rejected outright (request smuggling, RFC 7230 §3.3.3).
// Differing Content-Length values are rejected; identical duplicates are
// accepted.
func DetermineFraming(h *Header) (Framing, error) {
	f := Framing{ContentLength: -1}

	te := h.Values(headerTransferEncoding)
	cl := h.Values(headerContentLength)

	if len(te) > 0 {
		if len(cl) > 0 {
			return f, Reject(ConflictingContentLengthAndTransferEncoding)
		}
		if !finalCodingIsChunked(te) {
			return f, RejectDetail(FinalTransferCodingNotChunked, strings.Join(te, ", "))
		}
		f.Chunked = true
		return f, nil
	}

	for _, v := range cl {
		for _, part := range strings.Split(v, ",") {
			part = strings.Trim(part, " \t")
			n, ok := parseContentLength(part)
			if !ok {
				return f, RejectDetail(InvalidContentLength, v)
			}
			if f.ContentLength >= 0 && f.ContentLength != n {
				return f, Reject(MultipleContentLengths)
			}
			f.ContentLength = n
		}
	}
	return f, nil
}

func finalCodingIsChunked(values []string) bool {
	last := ""
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.Trim(part, " \t"); part != "" {
				last = part
			}
		}
	}
	return strings.EqualFold(last, "chunked")
}

// parseContentLength accepts 1*DIGIT without sign or overflow.
func parseContentLength(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		if n > (1<<63-1-int64(c-'0'))/10 {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// checkHost enforces the Host rules of RFC 7230 §5.4.
func checkHost(version Version, h *Header) error {
	hosts := h.Values(headerHost)
	switch {
	case len(hosts) > 1:
		return Reject(MultipleHostHeaders)
	case len(hosts) == 0 && version == Http11:
		return Reject(MissingHostHeader)
	}
	return nil
}

// wantsClose reports whether the connection must close after this request.
func wantsClose(version Version, h *Header) bool {
	keepAlive := false
	for _, v := range h.Values(headerConnection) {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.Trim(tok, " \t")
			if strings.EqualFold(tok, "close") {
				return true
			}
			if strings.EqualFold(tok, "keep-alive") {
				keepAlive = true
			}
		}
	}
	return version == Http10 && !keepAlive
}

// NewBodyReader returns a reader for a body framed by f. Bytes are taken from
// s, so nothing past the body is consumed.
func NewBodyReader(ctx context.Context, s *Scanner, f Framing, limits Limits) io.Reader {
	switch {
	case f.Chunked:
		return NewChunkedReaderContext(ctx, s, limits)
	case f.ContentLength > 0:
		return &FixedLengthReader{s: s, ctx: ctx, remaining: f.ContentLength}
	default:
		return NoBody
	}
}

func setupBody(ctx context.Context, req *Request, s *Scanner, limits Limits) error {
	if err := checkHost(req.Version, req.Header); err != nil {
		return err
	}
	f, err := DetermineFraming(req.Header)
	if err != nil {
		return err
	}
	req.ContentLength = f.ContentLength
	req.Chunked = f.Chunked
	req.Close = wantsClose(req.Version, req.Header)
	req.Body = NewBodyReader(ctx, s, f, limits)
	return nil
}

// NoBody is an empty body.
var NoBody = noBody{}

type noBody struct{}

func (noBody) Read([]byte) (int, error) { return 0, io.EOF }

// FixedLengthReader reads a Content-Length delimited body. A source that ends
// before the declared length yields an UnexpectedEndOfRequestContent
// rejection.
type FixedLengthReader struct {
	s         *Scanner
	ctx       context.Context
	remaining int64
	err       error
}

// Read implements io.Reader.
func (fr *FixedLengthReader) Read(p []byte) (int, error) {
	if fr.err != nil {
		return 0, fr.err
	}
	if fr.remaining == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > fr.remaining {
		p = p[:fr.remaining]
	}
	n, err := fr.s.ReadContext(fr.ctx, p)
	fr.remaining -= int64(n)
	if err != nil {
		if err == io.EOF {
			err = Reject(UnexpectedEndOfRequestContent)
		}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			fr.err = err
		}
		return n, err
	}
	return n, nil
}

// Remaining returns the number of body bytes not yet read.
func (fr *FixedLengthReader) Remaining() int64 {
	return fr.remaining
}
