// Package form decodes application/x-www-form-urlencoded bodies into ordered
// key/value entries with bounded key, value and pair counts.
package form

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/http11"
	"github.com/yourusername/framer/pkg/framer/kv"
)

// Default limits.
const (
	DefaultValueCountLimit  = 1024
	DefaultKeyLengthLimit   = 2048
	DefaultValueLengthLimit = 4 * 1024 * 1024
)

var (
	// ErrInvalidData wraps every limit violation and malformed escape.
	ErrInvalidData = errors.New("form: invalid data")

	// ErrReaderClosed is returned after Close.
	ErrReaderClosed = errors.New("form: reader closed")
)

// Options configures a Reader. Zero values select the defaults. Lengths are
// measured on the encoded bytes.
type Options struct {
	ValueCountLimit  int
	KeyLengthLimit   int
	ValueLengthLimit int

	// Pool supplies the read buffer. Nil means framer.DefaultPool().
	Pool *framer.BufferPool
}

func (o Options) withDefaults() Options {
	if o.ValueCountLimit <= 0 {
		o.ValueCountLimit = DefaultValueCountLimit
	}
	if o.KeyLengthLimit <= 0 {
		o.KeyLengthLimit = DefaultKeyLengthLimit
	}
	if o.ValueLengthLimit <= 0 {
		o.ValueLengthLimit = DefaultValueLengthLimit
	}
	return o
}

// Reader streams pairs out of a urlencoded body.
type Reader struct {
	s     *http11.Scanner
	opts  Options
	seg   []byte
	count int
	err   error
}

// NewReader returns a Reader with default limits.
func NewReader(r io.Reader) *Reader {
	return NewReaderOptions(r, Options{})
}

// NewReaderOptions returns a Reader over r.
func NewReaderOptions(r io.Reader, opts Options) *Reader {
	opts = opts.withDefaults()
	return &Reader{
		s:    http11.NewScannerSize(r, http11.DefaultScannerBufferSize, opts.Pool),
		opts: opts,
	}
}

// ReadPair returns the next decoded pair. A segment without '=' yields an
// empty value; empty segments are skipped. It returns io.EOF at the end of
// the body.
func (r *Reader) ReadPair(ctx context.Context) (key, value string, err error) {
	if r.s == nil {
		return "", "", ErrReaderClosed
	}
	if r.err != nil {
		return "", "", r.err
	}
	key, value, err = r.readPair(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.err = err
	}
	return key, value, err
}

func (r *Reader) readPair(ctx context.Context) (string, string, error) {
	for {
		seg, eq, err := r.readSegment(ctx)
		if err != nil {
			return "", "", err
		}
		if len(seg) == 0 {
			continue
		}

		r.count++
		if r.count > r.opts.ValueCountLimit {
			return "", "", fmt.Errorf("%w: form value count limit %d exceeded", ErrInvalidData, r.opts.ValueCountLimit)
		}

		rawKey, rawValue := seg, []byte(nil)
		if eq >= 0 {
			rawKey, rawValue = seg[:eq], seg[eq+1:]
		}
		key, err := url.QueryUnescape(string(rawKey))
		if err != nil {
			return "", "", fmt.Errorf("%w: key: %v", ErrInvalidData, err)
		}
		value, err := url.QueryUnescape(string(rawValue))
		if err != nil {
			return "", "", fmt.Errorf("%w: value of %q: %v", ErrInvalidData, key, err)
		}
		return key, value, nil
	}
}

// readSegment collects bytes up to the next '&' and reports the index of the
// first '=' in it, or -1.
func (r *Reader) readSegment(ctx context.Context) ([]byte, int, error) {
	r.seg = r.seg[:0]
	eq := -1
	for {
		data := r.s.Buffered()
		if len(data) == 0 {
			err := r.s.Fill(ctx)
			if err == io.EOF && len(r.seg) > 0 {
				return r.seg, eq, nil
			}
			if err != nil {
				return nil, -1, err
			}
			continue
		}

		amp := bytes.IndexByte(data, '&')
		chunk := data
		if amp >= 0 {
			chunk = data[:amp]
		}
		if eq < 0 {
			if i := bytes.IndexByte(chunk, '='); i >= 0 {
				eq = len(r.seg) + i
			}
		}
		r.seg = append(r.seg, chunk...)
		if err := r.checkLengths(eq); err != nil {
			return nil, -1, err
		}

		if amp >= 0 {
			r.s.Discard(amp + 1)
			return r.seg, eq, nil
		}
		r.s.Discard(len(chunk))
	}
}

func (r *Reader) checkLengths(eq int) error {
	keyLen := len(r.seg)
	if eq >= 0 {
		keyLen = eq
		if v := len(r.seg) - eq - 1; v > r.opts.ValueLengthLimit {
			return fmt.Errorf("%w: form value length limit %d exceeded", ErrInvalidData, r.opts.ValueLengthLimit)
		}
	}
	if keyLen > r.opts.KeyLengthLimit {
		return fmt.Errorf("%w: form key length limit %d exceeded", ErrInvalidData, r.opts.KeyLengthLimit)
	}
	return nil
}

// ReadForm reads every remaining pair. Keys are compared case-insensitively
// and keep their first spelling; values keep receipt order.
func (r *Reader) ReadForm(ctx context.Context) ([]kv.Entry, error) {
	acc := kv.NewAccumulator(true)
	for {
		key, value, err := r.ReadPair(ctx)
		if err == io.EOF {
			return acc.Finalize(), nil
		}
		if err != nil {
			return nil, err
		}
		acc.Append(key, value)
	}
}

// Close releases the read buffer.
func (r *Reader) Close() error {
	if r.s != nil {
		r.s.Release()
		r.s = nil
	}
	return nil
}

// ReadForm decodes all of body with default limits.
func ReadForm(ctx context.Context, body io.Reader) ([]kv.Entry, error) {
	r := NewReader(body)
	defer r.Close()
	return r.ReadForm(ctx)
}
