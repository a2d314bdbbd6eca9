package http11

import (
	"fmt"
	"io"
	"strconv"
)

// ResponseWriter writes an HTTP/1.1 response and enforces the message
// invariants: headers become read-only once the status line is sent, 1xx,
// 204 and 304 responses and HEAD requests carry no body, and a declared
// Content-Length must match the bytes written. Violations are returned as
// *InvalidOperationError and nothing invalid reaches the wire.
//
// Without a declared Content-Length, HTTP/1.1 bodies are sent chunked and
// HTTP/1.0 bodies are delimited by closing the connection.
type ResponseWriter struct {
	w io.Writer

	status int
	header Header

	statusWritten bool // WriteHeader was called
	headerWritten bool // status line and headers are on the wire
	finished      bool

	// contentLength is the declared length, -1 when not declared.
	contentLength int64
	bytesWritten  int64

	chunked bool
	encoder ChunkedEncoder

	// Set from the request being answered.
	head    bool
	version Version

	closeAfter bool
}

// NewResponseWriter creates a ResponseWriter for an HTTP/1.1 request.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	rw := &ResponseWriter{}
	rw.Reset(w)
	return rw
}

// Reset prepares the ResponseWriter for reuse with w.
func (rw *ResponseWriter) Reset(w io.Writer) {
	rw.w = w
	rw.status = 200
	rw.header.Reset()
	rw.statusWritten = false
	rw.headerWritten = false
	rw.finished = false
	rw.contentLength = -1
	rw.bytesWritten = 0
	rw.chunked = false
	rw.encoder = ChunkedEncoder{}
	rw.head = false
	rw.version = Http11
	rw.closeAfter = false
}

// bind associates the writer with the request it answers.
func (rw *ResponseWriter) bind(req *Request) {
	rw.head = req.MethodID == MethodHEAD
	rw.version = req.Version
	if req.Close {
		rw.closeAfter = true
	}
}

// Header returns the response headers. They are read-only once the response
// has started.
func (rw *ResponseWriter) Header() *Header {
	return &rw.header
}

// WriteHeader records the status code. It fails once the response has started
// and for codes outside 100-999.
func (rw *ResponseWriter) WriteHeader(statusCode int) error {
	if rw.headerWritten {
		return &InvalidOperationError{Fault: HeadersReadOnly}
	}
	if statusCode < 100 || statusCode > 999 {
		return &InvalidOperationError{Fault: InvalidStatusCode, Detail: strconv.Itoa(statusCode)}
	}
	rw.status = statusCode
	rw.statusWritten = true
	return nil
}

// bodyAllowed reports whether the status permits a body (RFC 7230 §3.3.3).
func bodyAllowed(status int) bool {
	return !(status >= 100 && status < 200) && status != 204 && status != 304
}

// Write sends data as part of the body, writing the head first if needed.
func (rw *ResponseWriter) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if rw.head || !bodyAllowed(rw.status) {
		return 0, &InvalidOperationError{Fault: ResponseBodyNotAllowed, Detail: strconv.Itoa(rw.status)}
	}
	if !rw.headerWritten {
		if err := rw.writeHeaders(false); err != nil {
			return 0, err
		}
	}
	if rw.contentLength >= 0 && rw.bytesWritten+int64(len(data)) > rw.contentLength {
		return 0, &InvalidOperationError{
			Fault:  TooManyBytesWritten,
			Detail: strconv.FormatInt(rw.bytesWritten+int64(len(data)), 10) + " of " + strconv.FormatInt(rw.contentLength, 10),
		}
	}

	var n int
	var err error
	if rw.chunked {
		n, err = rw.encoder.Write(data)
	} else {
		n, err = rw.w.Write(data)
	}
	rw.bytesWritten += int64(n)
	return n, err
}

// writeHeaders writes the status line and headers. final is set when the
// handler is done and no body will follow, so an empty body can be declared
// with Content-Length: 0 instead of chunked framing.
func (rw *ResponseWriter) writeHeaders(final bool) error {
	if rw.headerWritten {
		return nil
	}

	if v := rw.header.Get(headerContentLength); v != "" {
		n, ok := parseContentLength(v)
		if !ok {
			return fmt.Errorf("%w: Content-Length %q", ErrInvalidHeaderField, v)
		}
		rw.contentLength = n
	}

	canHaveBody := bodyAllowed(rw.status) && !rw.head
	switch {
	case !canHaveBody, rw.contentLength >= 0:
	case final:
		rw.contentLength = 0
		_ = rw.header.Set(headerContentLength, "0")
	case rw.version == Http11:
		rw.chunked = true
		rw.encoder = ChunkedEncoder{w: rw.w}
		_ = rw.header.Set(headerTransferEncoding, "chunked")
	default:
		// HTTP/1.0: the body ends when the connection closes.
		rw.closeAfter = true
	}
	if rw.closeAfter {
		_ = rw.header.Set(headerConnection, "close")
	}

	rw.headerWritten = true
	rw.header.Freeze()

	if _, err := rw.w.Write(getStatusLine(rw.status)); err != nil {
		return err
	}
	if _, err := rw.header.WriteTo(rw.w); err != nil {
		return err
	}
	_, err := rw.w.Write(crlfBytes)
	return err
}

// Flush writes the head if it has not been written and flushes the
// underlying writer when it buffers.
func (rw *ResponseWriter) Flush() error {
	if !rw.headerWritten {
		if err := rw.writeHeaders(false); err != nil {
			return err
		}
	}
	if flusher, ok := rw.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Finish completes the response: writes the head if the handler never wrote,
// terminates a chunked body and checks a declared Content-Length was met.
// It is called by the connection after the handler returns.
func (rw *ResponseWriter) Finish() error {
	if rw.finished {
		return nil
	}
	rw.finished = true

	if err := rw.writeHeaders(true); err != nil {
		return err
	}
	if rw.chunked {
		if err := rw.encoder.Close(); err != nil {
			return err
		}
	}
	if rw.contentLength >= 0 && rw.bytesWritten < rw.contentLength && !rw.head && bodyAllowed(rw.status) {
		// The peer is waiting for bytes that will never come.
		rw.closeAfter = true
		return &InvalidOperationError{
			Fault:  TooFewBytesWritten,
			Detail: strconv.FormatInt(rw.bytesWritten, 10) + " of " + strconv.FormatInt(rw.contentLength, 10),
		}
	}
	if flusher, ok := rw.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// SetClose marks the connection to close after this response. It only has
// an effect before the head is written.
func (rw *ResponseWriter) SetClose() {
	if !rw.headerWritten {
		rw.closeAfter = true
	}
}

// ShouldClose reports whether the connection must close after the response.
func (rw *ResponseWriter) ShouldClose() bool {
	return rw.closeAfter
}

// Status returns the status code, 200 unless WriteHeader was called.
func (rw *ResponseWriter) Status() int {
	return rw.status
}

// BytesWritten returns the number of body bytes written.
func (rw *ResponseWriter) BytesWritten() int64 {
	return rw.bytesWritten
}

// HeaderWritten returns whether the head has been written.
func (rw *ResponseWriter) HeaderWritten() bool {
	return rw.headerWritten
}

// WriteText writes a complete text/plain response.
func (rw *ResponseWriter) WriteText(statusCode int, data []byte) error {
	if err := rw.WriteHeader(statusCode); err != nil {
		return err
	}
	if err := rw.header.Set(headerContentType, "text/plain; charset=utf-8"); err != nil {
		return err
	}
	if err := rw.header.Set(headerContentLength, strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := rw.Write(data); err != nil {
		return err
	}
	return rw.Flush()
}

// WriteError writes a plain text error response.
func (rw *ResponseWriter) WriteError(statusCode int, message string) error {
	return rw.WriteText(statusCode, []byte(message))
}

// statusLines holds the pre-built status line of every code with a reason
// phrase; other codes are built on demand.
var statusLines = func() map[int][]byte {
	m := make(map[int][]byte, len(statusTexts))
	for code, text := range statusTexts {
		m[code] = []byte("HTTP/1.1 " + strconv.Itoa(code) + " " + text + "\r\n")
	}
	return m
}()

func getStatusLine(code int) []byte {
	if line, ok := statusLines[code]; ok {
		return line
	}
	return []byte("HTTP/1.1 " + strconv.Itoa(code) + " " + StatusText(code) + "\r\n")
}

// StatusText returns the reason phrase for code, "Unknown" if none is known.
func StatusText(code int) string {
	if text, ok := statusTexts[code]; ok {
		return text
	}
	return "Unknown"
}

// Based on RFC 7231 Section 6.
var statusTexts = map[int]string{
	100: "Continue",
	101: "Switching Protocols",

	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",

	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",

	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	417: "Expectation Failed",
	426: "Upgrade Required",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",

	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
	505: "HTTP Version Not Supported",
}
