package http11

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// RequestLine is the parsed first line of a request.
type RequestLine struct {
	Method   string
	MethodID uint8 // MethodUnknown for methods outside the well-known set
	Target   string
	Version  Version
}

// Path returns the target up to the query string.
func (rl RequestLine) Path() string {
	if i := indexByteString(rl.Target, '?'); i >= 0 {
		return rl.Target[:i]
	}
	return rl.Target
}

// Query returns the query string without the '?'.
func (rl RequestLine) Query() string {
	if i := indexByteString(rl.Target, '?'); i >= 0 {
		return rl.Target[i+1:]
	}
	return ""
}

func indexByteString(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// ParseRequestLine parses "METHOD SP TARGET SP HTTP/X.Y CR" (the LF already
// removed, as returned by Scanner.ReadLine).
//
// Format: METHOD SP Request-Target SP HTTP-Version CRLF
// Example: GET /index.html HTTP/1.1\r\n
func ParseRequestLine(line []byte) (RequestLine, error) {
	var rl RequestLine

	if len(line) == 0 || line[len(line)-1] != '\r' {
		return rl, Reject(InvalidRequestLine)
	}
	line = line[:len(line)-1]

	// METHOD
	sp := bytes.IndexByte(line, ' ')
	if sp <= 0 {
		return rl, Reject(InvalidRequestLine)
	}
	method := line[:sp]
	for _, c := range method {
		if !isTokenByte(c) {
			return rl, Reject(InvalidRequestLine)
		}
	}

	// Request-Target
	rest := line[sp+1:]
	sp = bytes.IndexByte(rest, ' ')
	if sp <= 0 {
		return rl, Reject(InvalidRequestLine)
	}
	target := rest[:sp]
	for _, c := range target {
		switch {
		case c == 0:
			return rl, Reject(PathContainsNullCharacters)
		case c <= 0x20, c >= 0x7f:
			return rl, Reject(NonAsciiOrNullCharactersInInputString)
		}
	}

	// HTTP-Version
	proto := rest[sp+1:]
	if len(proto) == 0 || bytes.IndexByte(proto, ' ') >= 0 {
		return rl, Reject(InvalidRequestLine)
	}
	switch {
	case bytes.Equal(proto, http11Bytes):
		rl.Version = Http11
	case bytes.Equal(proto, http10Bytes):
		rl.Version = Http10
	default:
		return rl, RejectDetail(UnrecognizedHTTPVersion, string(proto))
	}

	rl.MethodID = ParseMethodID(method)
	rl.Method = methodString(rl.MethodID, method)
	if !validTargetForm(rl.MethodID, target) {
		return rl, RejectDetail(InvalidRequestTarget, string(target))
	}
	rl.Target = string(target)
	return rl, nil
}

// validTargetForm accepts origin-form for every method, "*" for OPTIONS,
// authority-form for CONNECT and absolute-form otherwise.
func validTargetForm(methodID uint8, target []byte) bool {
	switch {
	case target[0] == '/':
		return true
	case len(target) == 1 && target[0] == '*':
		return methodID == MethodOPTIONS
	case methodID == MethodCONNECT:
		// host:port
		colon := bytes.LastIndexByte(target, ':')
		return colon > 0 && colon < len(target)-1 && bytes.IndexByte(target, '/') < 0
	default:
		i := bytes.Index(target, []byte("://"))
		if i <= 0 {
			return false
		}
		for _, c := range target[:i] {
			if !isSchemeByte(c) {
				return false
			}
		}
		return true
	}
}

func isSchemeByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '+' || c == '-' || c == '.'
}

// ReadRequestLine reads and parses a request line of at most maxSize bytes
// (CRLF included). One leading empty line is skipped, as RFC 7230 3.5 asks
// servers to tolerate.
//
// io.EOF is returned unchanged when the stream ends before any byte of a
// request arrived, so callers can tell an idle close from a truncated request.
func ReadRequestLine(ctx context.Context, s *Scanner, maxSize int) (RequestLine, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestLineSize
	}
	for skipped := 0; ; skipped++ {
		line, err := s.ReadLineContext(ctx, maxSize)
		if err != nil {
			switch {
			case errors.Is(err, ErrLineTooLong):
				return RequestLine{}, Reject(RequestLineTooLong)
			case err == io.ErrUnexpectedEOF:
				return RequestLine{}, Reject(InvalidRequestLine)
			case err == io.EOF && skipped > 0:
				return RequestLine{}, Reject(InvalidRequestLine)
			}
			return RequestLine{}, err
		}
		if skipped == 0 && (len(line) == 0 || (len(line) == 1 && line[0] == '\r')) {
			continue
		}
		return ParseRequestLine(line)
	}
}

// Parser reads complete request heads (request line and header block) from a
// Scanner and sets up the body reader. Pipelined requests work naturally:
// bytes past the current message stay buffered in the Scanner.
//
// A Parser is not safe for concurrent use; keep one per connection.
type Parser struct {
	limits  Limits
	headers *HeaderParser
}

// NewParser returns a Parser enforcing limits.
func NewParser(limits Limits) *Parser {
	limits = limits.withDefaults()
	return &Parser{
		limits:  limits,
		headers: NewHeaderParser(limits.MaxRequestHeadersTotalSize, limits.MaxRequestHeaderCount),
	}
}

// Limits returns the limits in effect.
func (p *Parser) Limits() Limits { return p.limits }

// ReadRequest reads the next request head from s. The returned Request comes
// from the pool; the caller returns it with PutRequest after the body has been
// consumed.
func (p *Parser) ReadRequest(ctx context.Context, s *Scanner) (*Request, error) {
	rl, err := ReadRequestLine(ctx, s, p.limits.MaxRequestLineSize)
	if err != nil {
		return nil, err
	}
	hdr, err := p.headers.Parse(ctx, s)
	if err != nil {
		return nil, err
	}

	req := GetRequest()
	req.RequestLine = rl
	req.Header = hdr
	if err := setupBody(ctx, req, s, p.limits); err != nil {
		PutRequest(req)
		return nil, err
	}
	return req, nil
}
