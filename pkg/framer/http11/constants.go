// Package http11 implements HTTP/1.x message framing: request-line and header
// parsing with strict grammar validation, chunked body decoding, body framing
// and a minimal connection loop that answers framing violations.
package http11

// HTTP Method IDs for O(1) switching
// These numeric IDs enable fast method identification without string comparisons
const (
	MethodUnknown uint8 = 0 // any other valid token ("custom" method)
	MethodGET     uint8 = 1
	MethodPOST    uint8 = 2
	MethodPUT     uint8 = 3
	MethodDELETE  uint8 = 4
	MethodPATCH   uint8 = 5
	MethodHEAD    uint8 = 6
	MethodOPTIONS uint8 = 7
	MethodCONNECT uint8 = 8
	MethodTRACE   uint8 = 9
)

// Version is the protocol version of a request line.
type Version uint8

const (
	VersionUnknown Version = iota
	Http10
	Http11
)

// String returns the wire form of the version.
func (v Version) String() string {
	switch v {
	case Http10:
		return "HTTP/1.0"
	case Http11:
		return "HTTP/1.1"
	default:
		return "unknown"
	}
}

// Default limits (per RFC 7230 and common server defaults)
const (
	// DefaultMaxRequestLineSize bounds the request line including its CRLF
	DefaultMaxRequestLineSize = 8192

	// DefaultMaxRequestHeadersTotalSize bounds the header block, CRLFs included
	DefaultMaxRequestHeadersTotalSize = 32768

	// DefaultMaxRequestHeaderCount bounds the number of header lines
	DefaultMaxRequestHeaderCount = 100

	// DefaultMaxChunkSizeLineLength bounds a chunk-size line (with extensions)
	DefaultMaxChunkSizeLineLength = 4096

	// DefaultMaxChunkSize bounds a single chunk (16MB)
	DefaultMaxChunkSize = 16 * 1024 * 1024

	// DefaultScannerBufferSize is the rented buffer size per scanner
	DefaultScannerBufferSize = 4096
)

// Common header names
const (
	headerContentLength    = "Content-Length"
	headerTransferEncoding = "Transfer-Encoding"
	headerConnection       = "Connection"
	headerHost             = "Host"
	headerContentType      = "Content-Type"
)

// Protocol constants
var (
	http11Bytes = []byte("HTTP/1.1")
	http10Bytes = []byte("HTTP/1.0")
	crlfBytes   = []byte("\r\n")
	colonSpace  = []byte(": ")
)

// tokenTable marks the RFC 7230 tchar bytes:
//
//	tchar = "!" / "#" / "$" / "%" / "&" / "'" / "*" / "+" / "-" / "." /
//	        "^" / "_" / "`" / "|" / "~" / DIGIT / ALPHA
var tokenTable = func() (t [256]bool) {
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
	}
	for c := 'A'; c <= 'Z'; c++ {
		t[c] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

func isTokenByte(c byte) bool { return tokenTable[c] }

func isSpaceOrTab(c byte) bool { return c == ' ' || c == '\t' }
