// Package multipart reads and writes multipart bodies (RFC 2046 §5.1,
// RFC 7578) on top of the http11 scanner, locating boundaries with a
// Boyer-Moore-Horspool search.
package multipart

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// MaxBoundaryLength is the longest boundary RFC 2046 allows.
const MaxBoundaryLength = 70

// Boundary is a compiled delimiter: the byte pattern searched for in the
// body and its skip table. A Boundary is immutable and may be shared between
// goroutines.
type Boundary struct {
	raw         string
	pattern     []byte
	skip        [256]int
	leadingCRLF bool
}

// NewBoundary compiles boundary. With expectLeadingCRLF the pattern is
// "\r\n--"+boundary, which is the form of every delimiter but the first.
func NewBoundary(boundary string, expectLeadingCRLF bool) *Boundary {
	b := &Boundary{raw: boundary, leadingCRLF: expectLeadingCRLF}
	if expectLeadingCRLF {
		b.pattern = []byte("\r\n--" + boundary)
	} else {
		b.pattern = []byte("--" + boundary)
	}

	n := len(b.pattern)
	for i := range b.skip {
		b.skip[i] = n
	}
	for i, c := range b.pattern {
		b.skip[c] = max(1, n-1-i)
	}
	return b
}

// WithLeadingCRLF returns a Boundary for the same delimiter with the given
// leading-CRLF expectation. The receiver is unchanged.
func (b *Boundary) WithLeadingCRLF(expect bool) *Boundary {
	if expect == b.leadingCRLF {
		return b
	}
	return NewBoundary(b.raw, expect)
}

// String returns the boundary parameter value.
func (b *Boundary) String() string { return b.raw }

// Pattern returns the searched byte pattern. It must not be modified.
func (b *Boundary) Pattern() []byte { return b.pattern }

// Len returns the pattern length.
func (b *Boundary) Len() int { return len(b.pattern) }

// ExpectLeadingCRLF reports whether the pattern starts with CRLF.
func (b *Boundary) ExpectLeadingCRLF() bool { return b.leadingCRLF }

// FinalLength is the pattern length plus the two bytes ("--" or CRLF) that
// follow a delimiter.
func (b *Boundary) FinalLength() int { return len(b.pattern) + 2 }

// Skip returns the shift for a mismatch whose window ends in c.
func (b *Boundary) Skip(c byte) int { return b.skip[c] }

// Index returns the offset of the first complete pattern in data, or -1.
func (b *Boundary) Index(data []byte) int {
	n := len(b.pattern)
	last := n - 1
	for i := last; i < len(data); i += b.skip[data[i]] {
		j, k := last, i
		for j >= 0 && data[k] == b.pattern[j] {
			j--
			k--
		}
		if j < 0 {
			return k + 1
		}
	}
	return -1
}

// ErrNoBoundary indicates a Content-Type without a usable boundary.
var ErrNoBoundary = errors.New("multipart: missing or invalid boundary")

// BoundaryFromContentType extracts the boundary parameter of a multipart
// Content-Type. Boundaries longer than MaxBoundaryLength are rejected.
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoBoundary, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("%w: media type %q is not multipart", ErrNoBoundary, mediaType)
	}
	boundary := params["boundary"]
	switch {
	case boundary == "":
		return "", ErrNoBoundary
	case len(boundary) > MaxBoundaryLength:
		return "", fmt.Errorf("%w: boundary length %d exceeds %d", ErrNoBoundary, len(boundary), MaxBoundaryLength)
	}
	return boundary, nil
}
