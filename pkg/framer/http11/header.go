package http11

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/yourusername/framer/pkg/framer/kv"
)

// ErrInvalidHeaderField indicates a header name or value that would corrupt
// the wire format if written (CR or LF inside it, or an empty name).
var ErrInvalidHeaderField = errors.New("http11: invalid header field")

type headerField struct {
	name   string
	values []string
}

// Header is an ordered collection of header fields. Names are compared
// case-insensitively and keep the spelling of their first occurrence; all
// values of a name are kept together in receipt order.
//
// A parsed Header is frozen. Mutating a frozen Header returns an
// *InvalidOperationError with the HeadersReadOnly fault.
//
// Linear scan is used for lookups; typical header blocks hold a few dozen
// fields at most.
type Header struct {
	fields []headerField
	frozen bool
}

// NewHeader returns an empty, mutable Header.
func NewHeader() *Header {
	return &Header{}
}

// headerFromEntries builds a frozen Header from accumulator output.
func headerFromEntries(entries []kv.Entry) *Header {
	h := &Header{fields: make([]headerField, len(entries)), frozen: true}
	for i, e := range entries {
		h.fields[i] = headerField{name: e.Key, values: e.Values}
	}
	return h
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return i
		}
	}
	return -1
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	if h == nil {
		return ""
	}
	if i := h.index(name); i >= 0 {
		return h.fields[i].values[0]
	}
	return ""
}

// Values returns every value for name in receipt order. The slice must not
// be modified.
func (h *Header) Values(name string) []string {
	if h == nil {
		return nil
	}
	if i := h.index(name); i >= 0 {
		return h.fields[i].values
	}
	return nil
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool {
	return h != nil && h.index(name) >= 0
}

// Len returns the number of distinct names.
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.fields)
}

// Names returns the field names in first-appearance order.
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	names := make([]string, len(h.fields))
	for i := range h.fields {
		names[i] = h.fields[i].name
	}
	return names
}

// VisitAll calls visitor once per value, grouped by name in first-appearance
// order. Iteration stops if visitor returns false.
func (h *Header) VisitAll(visitor func(name, value string) bool) {
	if h == nil {
		return
	}
	for i := range h.fields {
		for _, v := range h.fields[i].values {
			if !visitor(h.fields[i].name, v) {
				return
			}
		}
	}
}

// Add appends value to name.
func (h *Header) Add(name, value string) error {
	if err := h.checkWritable(name, value); err != nil {
		return err
	}
	if i := h.index(name); i >= 0 {
		h.fields[i].values = append(h.fields[i].values, value)
		return nil
	}
	h.fields = append(h.fields, headerField{name: name, values: []string{value}})
	return nil
}

// Set replaces all values of name with value.
func (h *Header) Set(name, value string) error {
	if err := h.checkWritable(name, value); err != nil {
		return err
	}
	if i := h.index(name); i >= 0 {
		h.fields[i].values = append(h.fields[i].values[:0:0], value)
		return nil
	}
	h.fields = append(h.fields, headerField{name: name, values: []string{value}})
	return nil
}

// Del removes name.
func (h *Header) Del(name string) error {
	if h.frozen {
		return &InvalidOperationError{Fault: HeadersReadOnly}
	}
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
	return nil
}

func (h *Header) checkWritable(name, value string) error {
	if h.frozen {
		return &InvalidOperationError{Fault: HeadersReadOnly}
	}
	if name == "" || strings.ContainsAny(name, "\r\n") || strings.ContainsAny(value, "\r\n") {
		return ErrInvalidHeaderField
	}
	return nil
}

// Freeze makes the Header read-only.
func (h *Header) Freeze() { h.frozen = true }

// Frozen reports whether the Header is read-only.
func (h *Header) Frozen() bool { return h.frozen }

// Clone returns a mutable deep copy.
func (h *Header) Clone() *Header {
	c := &Header{fields: make([]headerField, len(h.fields))}
	for i, f := range h.fields {
		c.fields[i] = headerField{name: f.name, values: append([]string(nil), f.values...)}
	}
	return c
}

// Reset clears all fields and makes the Header mutable again.
func (h *Header) Reset() {
	h.fields = h.fields[:0]
	h.frozen = false
}

// WriteTo writes the fields in wire format, without the terminating blank
// line.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for i := range h.fields {
		for _, v := range h.fields[i].values {
			n, err := io.WriteString(w, h.fields[i].name+": "+v+"\r\n")
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// HeaderParser reads a header block line by line from a Scanner.
//
// Size accounting counts every header line including its CRLF; the empty line
// that ends the block is not counted. A block exactly at MaxTotalSize is
// accepted.
//
// A HeaderParser may be reused for successive blocks but is not safe for
// concurrent use.
type HeaderParser struct {
	MaxTotalSize int
	MaxCount     int

	acc *kv.Accumulator
}

// NewHeaderParser returns a parser with the given limits. Non-positive limits
// select the defaults.
func NewHeaderParser(maxTotalSize, maxCount int) *HeaderParser {
	if maxTotalSize <= 0 {
		maxTotalSize = DefaultMaxRequestHeadersTotalSize
	}
	if maxCount <= 0 {
		maxCount = DefaultMaxRequestHeaderCount
	}
	return &HeaderParser{
		MaxTotalSize: maxTotalSize,
		MaxCount:     maxCount,
		acc:          kv.NewAccumulator(true),
	}
}

// Parse reads header lines until the empty line and returns the frozen
// collection. On error no partial collection is returned.
func (p *HeaderParser) Parse(ctx context.Context, s *Scanner) (*Header, error) {
	if p.acc == nil {
		p.acc = kv.NewAccumulator(true)
	}
	defer p.acc.Reset()

	total, count := 0, 0
	for {
		remaining := p.MaxTotalSize - total
		if remaining < 0 {
			remaining = 0
		}
		// The blank line must always fit.
		line, err := s.ReadLineContext(ctx, remaining+2)
		if err != nil {
			switch {
			case errors.Is(err, ErrLineTooLong):
				return nil, Reject(HeadersExceedMaxTotalSize)
			case err == io.EOF, err == io.ErrUnexpectedEOF:
				return nil, Reject(UnexpectedEndOfRequestContent)
			}
			return nil, err
		}

		if len(line) == 0 {
			return nil, Reject(MissingCRInHeaderLine)
		}
		if len(line) == 1 && line[0] == '\r' {
			return headerFromEntries(p.acc.Finalize()), nil
		}

		total += len(line) + 1
		if total > p.MaxTotalSize {
			return nil, Reject(HeadersExceedMaxTotalSize)
		}
		count++
		if count > p.MaxCount {
			return nil, Reject(TooManyHeaders)
		}

		name, value, err := parseHeaderLine(line, count > 1)
		if err != nil {
			return nil, err
		}
		p.acc.Append(string(name), string(value))
	}
}

// parseHeaderLine validates one header line (LF already removed, CR kept)
// and splits it into a name and a trimmed value.
func parseHeaderLine(line []byte, afterField bool) (name, value []byte, err error) {
	if line[len(line)-1] != '\r' {
		return nil, nil, Reject(MissingCRInHeaderLine)
	}
	line = line[:len(line)-1]

	if isSpaceOrTab(line[0]) {
		if afterField {
			return nil, nil, Reject(HeaderValueLineFoldingNotSupported)
		}
		return nil, nil, Reject(HeaderLineMustNotStartWithWhitespace)
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return nil, nil, Reject(NoColonCharacterFoundInHeaderLine)
	}
	name = line[:colon]
	if len(name) == 0 {
		return nil, nil, Reject(InvalidCharactersInHeaderName)
	}
	for _, c := range name {
		if isSpaceOrTab(c) {
			return nil, nil, Reject(WhitespaceIsNotAllowedInHeaderName)
		}
		if !isTokenByte(c) {
			return nil, nil, Reject(InvalidCharactersInHeaderName)
		}
	}

	value = trimSpaceTab(line[colon+1:])
	for _, c := range value {
		switch {
		case c == '\r':
			return nil, nil, Reject(HeaderValueMustNotContainCR)
		case c == '\t':
		case c < 0x20, c == 0x7f, c >= 0x80:
			return nil, nil, Reject(NonAsciiOrNullCharactersInInputString)
		}
	}
	return name, value, nil
}

func trimSpaceTab(b []byte) []byte {
	for len(b) > 0 && isSpaceOrTab(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && isSpaceOrTab(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}
