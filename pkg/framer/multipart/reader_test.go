package multipart

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/framer/pkg/framer"
	"github.com/yourusername/framer/pkg/framer/http11"
)

type readSection struct {
	header map[string]string
	body   string
}

func readAllSections(t *testing.T, r *Reader) []readSection {
	t.Helper()
	var out []readSection
	for {
		sec, err := r.NextSection(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)

		h := map[string]string{}
		sec.Header.VisitAll(func(name, value string) bool {
			h[name] = value
			return true
		})
		body, err := io.ReadAll(sec.Body)
		require.NoError(t, err)
		out = append(out, readSection{header: h, body: string(body)})
	}
}

func TestReaderSections(t *testing.T) {
	body := "preamble\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"a\"\r\n\r\nvalue-a\r\n" +
		"--b\r\nContent-Type: text/plain\r\n\r\nline1\r\nline2\r\n" +
		"--b--\r\nepilogue"

	r := NewReader(strings.NewReader(body), "b")
	defer r.Close()

	got := readAllSections(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, `form-data; name="a"`, got[0].header["Content-Disposition"])
	assert.Equal(t, "value-a", got[0].body)
	assert.Equal(t, "text/plain", got[1].header["Content-Type"])
	assert.Equal(t, "line1\r\nline2", got[1].body)

	assert.True(t, r.Boundary().ExpectLeadingCRLF())
	_, err := r.NextSection(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestReaderNoSections(t *testing.T) {
	r := NewReader(strings.NewReader("--b--\r\n"), "b")
	defer r.Close()
	assert.Empty(t, readAllSections(t, r))
}

func TestReaderEmptyHeadersAndBody(t *testing.T) {
	r := NewReader(strings.NewReader("--b\r\n\r\n\r\n--b--"), "b")
	defer r.Close()

	got := readAllSections(t, r)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].header)
	assert.Empty(t, got[0].body)
}

func TestReaderSkipsUnreadSections(t *testing.T) {
	body := "--b\r\nX: 1\r\n\r\n" + strings.Repeat("skip me ", 2000) +
		"\r\n--b\r\nX: 2\r\n\r\nkept\r\n--b--"
	r := NewReader(strings.NewReader(body), "b")
	defer r.Close()

	ctx := context.Background()
	first, err := r.NextSection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1", first.Header.Get("x"))

	second, err := r.NextSection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2", second.Header.Get("X"))
	data, err := io.ReadAll(second.Body)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))

	// The first body was drained by NextSection.
	n, err := first.Body.Read(make([]byte, 8))
	assert.Zero(t, n)
	assert.Equal(t, io.EOF, err)
}

func TestReaderTransportPadding(t *testing.T) {
	body := "--b \t\r\nX: 1\r\n\r\ndata\r\n--b\t\r\nX: 2\r\n\r\nmore\r\n--b--"
	r := NewReader(strings.NewReader(body), "b")
	defer r.Close()

	got := readAllSections(t, r)
	require.Len(t, got, 2)
	assert.Equal(t, "data", got[0].body)
	assert.Equal(t, "more", got[1].body)
}

func TestReaderSmallBufferSize(t *testing.T) {
	boundary := strings.Repeat("q", MaxBoundaryLength)
	padding := strings.Repeat(" ", maxTransportPadding)
	body := "--" + boundary + padding + "\r\nX: 1\r\n\r\ndata\r\n" +
		"--" + boundary + "\r\nX: 2\r\n\r\nmore\r\n" +
		"--" + boundary + "--" + padding + "\r\n"

	tests := []struct {
		name string
		size int
	}{
		{"below scanner minimum", 1},
		{"shorter than delimiter", 16},
		{"delimiter without padding", len(boundary) + 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderOptions(iotest.OneByteReader(strings.NewReader(body)), boundary, Options{BufferSize: tt.size})
			defer r.Close()
			assert.GreaterOrEqual(t, r.opts.BufferSize, minBufferSize(boundary))

			got := readAllSections(t, r)
			require.Len(t, got, 2)
			assert.Equal(t, "1", got[0].header["X"])
			assert.Equal(t, "data", got[0].body)
			assert.Equal(t, "2", got[1].header["X"])
			assert.Equal(t, "more", got[1].body)
		})
	}
}

func TestReaderDelimiterLookalikes(t *testing.T) {
	payloads := []string{
		"\r\n--boundaryX",
		"\r\n--boundary \tx",
		"--boundary",
		"\r\n--boundar",
		"\r\n--boundary-",
		"x\r\n--",
	}
	for i, p := range payloads {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			body := "--boundary\r\n\r\n" + p + "\r\n--boundary--\r\n"
			r := NewReader(strings.NewReader(body), "boundary")
			defer r.Close()

			got := readAllSections(t, r)
			require.Len(t, got, 1)
			assert.Equal(t, p, got[0].body)
		})
	}
}

func TestReaderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	randomBytes := func(n int) string {
		b := make([]byte, n)
		rng.Read(b)
		return string(b)
	}

	type part struct {
		name string
		body string
	}
	parts := []part{
		{"empty", ""},
		{"text", "hello world"},
		{"crlf", "\r\n\r\n"},
		{"binary", randomBytes(10000)},
		{"lookalike", "\r\n--framer\r\n--"},
		{"large", strings.Repeat("abcdefgh", 5000)},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range parts {
		fw, err := w.CreateFormField(p.name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	boundary, err := BoundaryFromContentType(w.FormDataContentType())
	require.NoError(t, err)
	require.Equal(t, w.Boundary(), boundary)

	sources := map[string]func() io.Reader{
		"whole":    func() io.Reader { return bytes.NewReader(buf.Bytes()) },
		"one byte": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(buf.Bytes())) },
		"half":     func() io.Reader { return iotest.HalfReader(bytes.NewReader(buf.Bytes())) },
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			r := NewReaderOptions(src(), boundary, Options{BufferSize: 128})
			defer r.Close()

			ctx := context.Background()
			for _, want := range parts {
				sec, err := r.NextSection(ctx)
				require.NoError(t, err)
				cd, err := sec.ContentDisposition()
				require.NoError(t, err)
				assert.Equal(t, "form-data", cd.Type)
				assert.Equal(t, want.name, cd.Name())
				assert.False(t, cd.IsFile())

				got, err := io.ReadAll(sec.Body)
				require.NoError(t, err)
				assert.True(t, bytes.Equal([]byte(want.body), got), "section %s differs", want.name)
			}
			_, err := r.NextSection(ctx)
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestReaderFileSection(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.SetBoundary("XyZ"))
	fw, err := w.CreateFormFile("upload", `a "b".txt`)
	require.NoError(t, err)
	_, err = fw.Write([]byte("file body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(&buf, "XyZ")
	defer r.Close()
	sec, err := r.NextSection(context.Background())
	require.NoError(t, err)

	cd, err := sec.ContentDisposition()
	require.NoError(t, err)
	assert.True(t, cd.IsFile())
	assert.Equal(t, "upload", cd.Name())
	assert.Equal(t, `a "b".txt`, cd.FileName())
	assert.Equal(t, "application/octet-stream", sec.ContentType())
}

func TestReaderBaseOffset(t *testing.T) {
	body := "--b\r\nX: 1\r\n\r\nfirst\r\n--b\r\n\r\nsecond\r\n--b--"
	r := NewReader(strings.NewReader(body), "b")
	defer r.Close()

	ctx := context.Background()
	for _, want := range []string{"first", "second"} {
		sec, err := r.NextSection(ctx)
		require.NoError(t, err)
		assert.True(t, sec.HasBaseOffset)
		assert.Equal(t, int64(strings.Index(body, want)), sec.BaseOffset)
	}

	nr := NewReader(iotest.OneByteReader(strings.NewReader(body)), "b")
	defer nr.Close()
	sec, err := nr.NextSection(ctx)
	require.NoError(t, err)
	assert.False(t, sec.HasBaseOffset)
}

func TestReaderInvalidData(t *testing.T) {
	tests := []struct {
		name string
		body string
		opts Options
	}{
		{"truncated body", "--b\r\n\r\npartial", Options{}},
		{"truncated after delimiter", "--b\r\n\r\ndata\r\n--b", Options{}},
		{"no delimiter", "just a preamble", Options{}},
		{"too many headers", "--b\r\n" + strings.Repeat("X: 1\r\n", 17) + "\r\n\r\n--b--", Options{}},
		{"header block too long", "--b\r\nX: " + strings.Repeat("v", 200) + "\r\n\r\n\r\n--b--", Options{HeadersLengthLimit: 100}},
		{"bad header line", "--b\r\nno colon\r\n\r\n\r\n--b--", Options{}},
		{"headers end early", "--b\r\nX: 1\r\n", Options{}},
		{"preamble too long", strings.Repeat("p", 200) + "\r\n--b--", Options{HeadersLengthLimit: 100}},
		{"epilogue too long", "--b--\r\n" + strings.Repeat("e", 200), Options{HeadersLengthLimit: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReaderOptions(strings.NewReader(tt.body), "b", tt.opts)
			defer r.Close()

			var err error
			for err == nil {
				var sec *Section
				sec, err = r.NextSection(context.Background())
				if err == nil {
					_, err = io.ReadAll(sec.Body)
				}
			}
			require.ErrorIs(t, err, ErrInvalidData)

			// Errors are sticky.
			_, again := r.NextSection(context.Background())
			assert.ErrorIs(t, again, ErrInvalidData)
		})
	}
}

func TestReaderBodyLengthLimit(t *testing.T) {
	body := "--b\r\n\r\n" + strings.Repeat("x", 11) + "\r\n--b--"

	r := NewReaderOptions(strings.NewReader(body), "b", Options{BodyLengthLimit: 10})
	defer r.Close()
	sec, err := r.NextSection(context.Background())
	require.NoError(t, err)
	_, err = io.ReadAll(sec.Body)
	assert.ErrorIs(t, err, ErrInvalidData)

	ok := NewReaderOptions(strings.NewReader(body), "b", Options{BodyLengthLimit: 11})
	defer ok.Close()
	assert.Len(t, readAllSections(t, ok), 1)
}

func TestReaderCancellation(t *testing.T) {
	r := NewReader(strings.NewReader("--b\r\n\r\ndata\r\n--b--"), "b")
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.NextSection(ctx)
	require.True(t, errors.Is(err, context.Canceled))

	// Cancellation is not sticky.
	got := readAllSections(t, r)
	require.Len(t, got, 1)
	assert.Equal(t, "data", got[0].body)
}

func TestReaderClose(t *testing.T) {
	pool := framer.NewBufferPool()
	r := NewReaderOptions(strings.NewReader("--b\r\n\r\nx\r\n--b--"), "b", Options{Pool: pool})
	assert.Equal(t, int64(1), pool.Outstanding())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, int64(0), pool.Outstanding())

	_, err := r.NextSection(context.Background())
	assert.ErrorIs(t, err, ErrReaderClosed)
}

func TestWriterSetBoundary(t *testing.T) {
	w := NewWriter(io.Discard)
	assert.ErrorIs(t, w.SetBoundary(""), ErrNoBoundary)
	assert.ErrorIs(t, w.SetBoundary(strings.Repeat("a", 71)), ErrNoBoundary)
	assert.ErrorIs(t, w.SetBoundary("a\r\nb"), ErrNoBoundary)
	require.NoError(t, w.SetBoundary("a b"))
	assert.Equal(t, `multipart/form-data; boundary="a b"`, w.FormDataContentType())

	_, err := w.CreateSection(http11.NewHeader())
	require.NoError(t, err)
	assert.Error(t, w.SetBoundary("late"))

	require.NoError(t, w.Close())
	_, err = w.CreateSection(nil)
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func BenchmarkReader(b *testing.B) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for i := 0; i < 8; i++ {
		fw, _ := w.CreateFormField("field" + strconv.Itoa(i))
		fw.Write(bytes.Repeat([]byte("0123456789"), 1000))
	}
	w.Close()
	data := buf.Bytes()

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r := NewReader(bytes.NewReader(data), w.Boundary())
		for {
			sec, err := r.NextSection(context.Background())
			if err != nil {
				break
			}
			io.Copy(io.Discard, sec.Body)
		}
		r.Close()
	}
}
