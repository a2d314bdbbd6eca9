package http11

import (
	"errors"
	"fmt"
	"strings"
)

// RejectionReason classifies why an incoming message failed to parse.
// The set is closed; every reason maps to exactly one status code.
type RejectionReason uint8

const (
	ReasonUnknown RejectionReason = iota
	InvalidRequestLine
	InvalidRequestTarget
	UnrecognizedHTTPVersion
	RequestLineTooLong
	NonAsciiOrNullCharactersInInputString
	PathContainsNullCharacters
	HeaderLineMustNotStartWithWhitespace
	HeaderValueLineFoldingNotSupported
	NoColonCharacterFoundInHeaderLine
	WhitespaceIsNotAllowedInHeaderName
	HeaderValueMustNotContainCR
	MissingCRInHeaderLine
	InvalidCharactersInHeaderName
	HeadersExceedMaxTotalSize
	TooManyHeaders
	InvalidContentLength
	MultipleContentLengths
	ConflictingContentLengthAndTransferEncoding
	FinalTransferCodingNotChunked
	UnexpectedEndOfRequestContent
	BadChunkSizeData
	BadChunkSuffix
	ChunkedRequestIncomplete
	MissingHostHeader
	MultipleHostHeaders
	RequestTimeout

	reasonCount
)

type rejectionEntry struct {
	name   string
	status int
	// message is a fmt template; templates with a verb take the detail value.
	message   string
	hasDetail bool
}

// rejectionTable is built once and only read afterwards.
var rejectionTable = [reasonCount]rejectionEntry{
	ReasonUnknown:                               {"Unknown", 400, "Bad request.", false},
	InvalidRequestLine:                          {"InvalidRequestLine", 400, "Invalid request line.", false},
	InvalidRequestTarget:                        {"InvalidRequestTarget", 400, "Invalid request target: '%s'", true},
	UnrecognizedHTTPVersion:                     {"UnrecognizedHTTPVersion", 505, "Unrecognized HTTP version: '%s'", true},
	RequestLineTooLong:                          {"RequestLineTooLong", 414, "Request line too long.", false},
	NonAsciiOrNullCharactersInInputString:       {"NonAsciiOrNullCharactersInInputString", 400, "The input string contains non-ASCII or null characters.", false},
	PathContainsNullCharacters:                  {"PathContainsNullCharacters", 400, "The path contains null characters.", false},
	HeaderLineMustNotStartWithWhitespace:        {"HeaderLineMustNotStartWithWhitespace", 400, "Header line must not start with whitespace.", false},
	HeaderValueLineFoldingNotSupported:          {"HeaderValueLineFoldingNotSupported", 400, "Header value line folding not supported.", false},
	NoColonCharacterFoundInHeaderLine:           {"NoColonCharacterFoundInHeaderLine", 400, "No ':' character found in header line.", false},
	WhitespaceIsNotAllowedInHeaderName:          {"WhitespaceIsNotAllowedInHeaderName", 400, "Whitespace is not allowed in header name.", false},
	HeaderValueMustNotContainCR:                 {"HeaderValueMustNotContainCR", 400, "Header value must not contain CR characters.", false},
	MissingCRInHeaderLine:                       {"MissingCRInHeaderLine", 400, "No CR character found in header line.", false},
	InvalidCharactersInHeaderName:               {"InvalidCharactersInHeaderName", 400, "Invalid characters in header name.", false},
	HeadersExceedMaxTotalSize:                   {"HeadersExceedMaxTotalSize", 431, "Request headers too long.", false},
	TooManyHeaders:                              {"TooManyHeaders", 431, "Request contains too many headers.", false},
	InvalidContentLength:                        {"InvalidContentLength", 400, "Invalid content length: %s", true},
	MultipleContentLengths:                      {"MultipleContentLengths", 400, "Multiple Content-Length headers.", false},
	ConflictingContentLengthAndTransferEncoding: {"ConflictingContentLengthAndTransferEncoding", 400, "Request contains both Content-Length and Transfer-Encoding headers.", false},
	FinalTransferCodingNotChunked:               {"FinalTransferCodingNotChunked", 400, "Final transfer coding is not \"chunked\": \"%s\"", true},
	UnexpectedEndOfRequestContent:               {"UnexpectedEndOfRequestContent", 400, "Unexpected end of request content.", false},
	BadChunkSizeData:                            {"BadChunkSizeData", 400, "Bad chunk size data.", false},
	BadChunkSuffix:                              {"BadChunkSuffix", 400, "Bad chunk suffix.", false},
	ChunkedRequestIncomplete:                    {"ChunkedRequestIncomplete", 400, "Chunked request incomplete.", false},
	MissingHostHeader:                           {"MissingHostHeader", 400, "Request is missing Host header.", false},
	MultipleHostHeaders:                         {"MultipleHostHeaders", 400, "Multiple Host headers.", false},
	RequestTimeout:                              {"RequestTimeout", 408, "Request timed out.", false},
}

func (r RejectionReason) entry() rejectionEntry {
	if r >= reasonCount {
		return rejectionTable[ReasonUnknown]
	}
	return rejectionTable[r]
}

// String returns the reason's identifier, e.g. "TooManyHeaders".
func (r RejectionReason) String() string { return r.entry().name }

// StatusCode returns the status code a server answers this reason with.
func (r RejectionReason) StatusCode() int { return r.entry().status }

// Message formats the user-facing message. detail is only used by reasons
// whose template interpolates a value.
func (r RejectionReason) Message(detail string) string {
	e := r.entry()
	if e.hasDetail {
		return fmt.Sprintf(e.message, detail)
	}
	return e.message
}

// RejectionError is a framing violation attributable to the client.
// The connection layer answers it with StatusCode and closes the connection.
type RejectionError struct {
	Reason RejectionReason
	Detail string
}

// Reject builds a RejectionError.
func Reject(reason RejectionReason) *RejectionError {
	return &RejectionError{Reason: reason}
}

// RejectDetail builds a RejectionError carrying a diagnostic value.
func RejectDetail(reason RejectionReason, detail string) *RejectionError {
	return &RejectionError{Reason: reason, Detail: detail}
}

func (e *RejectionError) Error() string {
	return "http11: " + e.Reason.Message(e.Detail)
}

// StatusCode returns the status code for the rejection.
func (e *RejectionError) StatusCode() int { return e.Reason.StatusCode() }

// Is matches another *RejectionError with the same reason, so that
// errors.Is(err, Reject(TooManyHeaders)) works regardless of the detail.
func (e *RejectionError) Is(target error) bool {
	var t *RejectionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf extracts the rejection reason from err.
func ReasonOf(err error) (RejectionReason, bool) {
	var rerr *RejectionError
	if errors.As(err, &rerr) {
		return rerr.Reason, true
	}
	return ReasonUnknown, false
}

// OperationFault is a response-side invariant a caller violated.
type OperationFault uint8

const (
	HeadersReadOnly OperationFault = iota
	ResponseBodyNotAllowed
	TooManyBytesWritten
	TooFewBytesWritten
	InvalidStatusCode
)

var operationFaultMessages = [...]string{
	HeadersReadOnly:        "Headers are read-only, response has already started.",
	ResponseBodyNotAllowed: "Writing to the response body is invalid for responses with status code %s.",
	TooManyBytesWritten:    "Response Content-Length mismatch: too many bytes written (%s).",
	TooFewBytesWritten:     "Response Content-Length mismatch: too few bytes written (%s).",
	InvalidStatusCode:      "Invalid status code %s.",
}

// InvalidOperationError reports a programming error by the code driving a
// message (writing headers after the response started, mutating frozen
// headers and so on). It is never sent to the peer.
type InvalidOperationError struct {
	Fault  OperationFault
	Detail string
}

func (e *InvalidOperationError) Error() string {
	msg := operationFaultMessages[e.Fault]
	if strings.Contains(msg, "%s") {
		msg = fmt.Sprintf(msg, e.Detail)
	}
	return "http11: " + msg
}

// Is matches another *InvalidOperationError with the same fault.
func (e *InvalidOperationError) Is(target error) bool {
	var t *InvalidOperationError
	if !errors.As(target, &t) {
		return false
	}
	return t.Fault == e.Fault
}

// Scanner and connection errors
var (
	// ErrLineTooLong indicates a line exceeded the caller's maximum length
	ErrLineTooLong = errors.New("http11: line too long")

	// ErrBufferFull indicates a Peek larger than the scanner buffer
	ErrBufferFull = errors.New("http11: scanner buffer full")

	// ErrScannerReleased indicates use of a scanner after Release
	ErrScannerReleased = errors.New("http11: scanner released")

	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("http11: connection closed")

	// ErrBodyNotConsumed indicates the handler left unread body bytes that
	// could not be drained within the drain limit
	ErrBodyNotConsumed = errors.New("http11: request body not consumed")
)
