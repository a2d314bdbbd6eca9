package http11

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectionTableComplete(t *testing.T) {
	allowed := map[int]bool{400: true, 408: true, 414: true, 431: true, 505: true}
	seen := map[string]bool{}

	for r := ReasonUnknown; r < reasonCount; r++ {
		entry := rejectionTable[r]
		assert.NotEmpty(t, entry.name, "reason %d has no name", r)
		assert.NotEmpty(t, entry.message, "reason %s has no message", r)
		assert.True(t, allowed[entry.status], "reason %s maps to %d", r, entry.status)
		assert.False(t, seen[entry.name], "duplicate name %s", entry.name)
		seen[entry.name] = true
	}
}

func TestRejectionStatusCodes(t *testing.T) {
	tests := []struct {
		reason RejectionReason
		status int
	}{
		{InvalidRequestLine, 400},
		{UnrecognizedHTTPVersion, 505},
		{RequestLineTooLong, 414},
		{HeadersExceedMaxTotalSize, 431},
		{TooManyHeaders, 431},
		{RequestTimeout, 408},
		{BadChunkSuffix, 400},
		{RejectionReason(250), 400},
	}
	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.reason.StatusCode())
			assert.Equal(t, tt.status, Reject(tt.reason).StatusCode())
		})
	}
}

func TestRejectionErrorMatching(t *testing.T) {
	err := fmt.Errorf("reading body: %w", RejectDetail(InvalidContentLength, "x"))

	assert.True(t, errors.Is(err, Reject(InvalidContentLength)))
	assert.False(t, errors.Is(err, Reject(MultipleContentLengths)))

	var rej *RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "x", rej.Detail)
	assert.Equal(t, "http11: Invalid content length: x", rej.Error())

	_, ok := ReasonOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestInvalidOperationError(t *testing.T) {
	err := &InvalidOperationError{Fault: HeadersReadOnly}
	assert.Equal(t, "http11: Headers are read-only, response has already started.", err.Error())

	err = &InvalidOperationError{Fault: TooFewBytesWritten, Detail: "2 of 3"}
	assert.Equal(t, "http11: Response Content-Length mismatch: too few bytes written (2 of 3).", err.Error())
	assert.ErrorIs(t, fmt.Errorf("wrap: %w", err), &InvalidOperationError{Fault: TooFewBytesWritten})
	assert.NotErrorIs(t, err, &InvalidOperationError{Fault: TooManyBytesWritten})
}
